package cli

import (
	"errors"
	"fmt"
	"net/http"

	"relief-cli/internal/api"
	"relief-cli/internal/editor"
)

var errNotSignedIn = errors.New("not signed in; run `relief login --username <name>` first")

type confirmationRequiredError struct {
	action string
}

func (e confirmationRequiredError) Error() string {
	return fmt.Sprintf("%s is destructive; re-run with --yes to confirm", e.action)
}

func errConfirmationRequired(action string) error {
	return confirmationRequiredError{action: action}
}

// describe renders err for stderr: the server's detail when present, else the
// operation and status.
func describe(err error) string {
	var pf *editor.PartialUpdateFailure
	if errors.As(err, &pf) {
		return fmt.Sprintf("%s (persisted: %v, not persisted: %v)", describeFetch(pf.Err), pf.Persisted, pf.Remaining)
	}
	return describeFetch(err)
}

func describeFetch(err error) string {
	var fe *api.FetchError
	if !errors.As(err, &fe) {
		return err.Error()
	}
	switch {
	case fe.Detail != "":
		return fmt.Sprintf("%s failed: %s", fe.Op, fe.Detail)
	case fe.Status != 0:
		return fmt.Sprintf("%s failed: %d %s", fe.Op, fe.Status, http.StatusText(fe.Status))
	case fe.Err != nil:
		return fmt.Sprintf("%s failed: network error: %v", fe.Op, fe.Err)
	}
	return api.UserMessage(err, fe.Op+" failed")
}
