// Package perm maps the session role to the actions the UI offers.
//
// These are hints only: the role is read from an unverified credential and
// the server enforces every rule again. A hidden action is a convenience, not
// a security boundary.
package perm

import "relief-cli/internal/model"

type Action string

const (
	ViewReports   Action = "reports.view"
	SubmitReport  Action = "reports.submit"
	EditReport    Action = "reports.edit"
	DeleteReport  Action = "reports.delete"
	RunDedup      Action = "dedup.run"
	ViewDedupLogs Action = "dedup.logs"
	Export        Action = "reports.export"
	ViewDashboard Action = "dashboard.view"
)

var adminOnly = map[Action]bool{
	EditReport:    true,
	DeleteReport:  true,
	RunDedup:      true,
	ViewDedupLogs: true,
}

// Allows reports whether the UI should offer a for the given session.
func Allows(s model.Session, signedIn bool, a Action) bool {
	if !signedIn {
		return false
	}
	if adminOnly[a] {
		return s.IsAdmin()
	}
	return s.Role.Valid()
}

func CanEditReports(s model.Session, signedIn bool) bool { return Allows(s, signedIn, EditReport) }

func CanDeleteReports(s model.Session, signedIn bool) bool { return Allows(s, signedIn, DeleteReport) }

func CanRunDedup(s model.Session, signedIn bool) bool { return Allows(s, signedIn, RunDedup) }
