// Package guard decides whether a view may be shown for the current session.
package guard

import (
	"context"
	"time"

	"relief-cli/internal/session"
)

type Access int

const (
	Public Access = iota
	Authenticated
	// GuestOnly views (login, signup) redirect signed-in users home.
	GuestOnly
)

type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case RedirectLogin:
		return "redirect-login"
	case RedirectHome:
		return "redirect-home"
	default:
		return "allow"
	}
}

// Sessions is the part of session.Store the guard reads.
type Sessions interface {
	Wait(ctx context.Context) (session.Status, error)
}

type Guard struct {
	Sessions Sessions
	// Timeout bounds the wait for restoration. Zero waits as long as ctx allows.
	Timeout time.Duration
}

// Check waits for restoration to settle, then decides. A restoration still
// pending when the wait ends counts as signed out.
func (g Guard) Check(ctx context.Context, access Access) Decision {
	if access == Public {
		return Allow
	}
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	st := session.Absent
	if g.Sessions != nil {
		st, _ = g.Sessions.Wait(ctx)
	}
	signedIn := st == session.Restored
	switch access {
	case Authenticated:
		if !signedIn {
			return RedirectLogin
		}
	case GuestOnly:
		if signedIn {
			return RedirectHome
		}
	}
	return Allow
}
