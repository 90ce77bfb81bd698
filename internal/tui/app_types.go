package tui

import (
	"relief-cli/internal/dedup"
	"relief-cli/internal/guard"
	"relief-cli/internal/model"
	"relief-cli/internal/reports"
	"relief-cli/internal/session"
)

type view int

const (
	viewLogin view = iota
	viewSignup
	viewReports
	viewDashboard
)

var viewNames = map[view]string{
	viewLogin:     "login",
	viewSignup:    "signup",
	viewReports:   "reports",
	viewDashboard: "dashboard",
}

func (v view) String() string { return viewNames[v] }

func parseView(s string) (view, bool) {
	for v, n := range viewNames {
		if n == s {
			return v, true
		}
	}
	return viewReports, false
}

type modalKind int

const (
	modalNone modalKind = iota
	modalSearch
	modalSubmit
	modalEdit
	modalConfirmDelete
	modalConfirmDedup
	modalDedupResult
	modalHelp
)

type confirmModalFocus int

const (
	confirmFocusConfirm confirmModalFocus = iota
	confirmFocusCancel
)

// Messages. Every async result carries enough to tell whether it is still
// relevant when it arrives.

type sessionMsg struct {
	status session.Status
	closed bool
}

type pageMsg struct {
	ticket reports.Ticket
	page   model.Page
	err    error
}

type pollTickMsg struct{ gen int }

type authDoneMsg struct {
	sess model.Session
	err  error
}

type signupDoneMsg struct {
	user model.User
	err  error
}

type logoutDoneMsg struct{ err error }

type submitDoneMsg struct {
	report model.Report
	err    error
}

type commitDoneMsg struct {
	reportID int64
	report   model.Report
	err      error
}

type rollbackDoneMsg struct {
	reportID int64
	err      error
}

type deleteDoneMsg struct {
	id  int64
	err error
}

type dedupDoneMsg struct {
	outcome dedup.Outcome
	err     error
}

type exportDoneMsg struct {
	path string
	err  error
}

type dashboardMsg struct {
	metrics model.DashboardMetrics
	err     error
}

type flashDoneMsg struct{ seq int }

type navMsg struct {
	target   view
	decision guard.Decision
}
