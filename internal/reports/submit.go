package reports

import (
	"context"
	"strings"

	"relief-cli/internal/model"
)

// ValidationError rejects input before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// RequireText fails with a *ValidationError when text is blank.
func RequireText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "text", Message: "report text must not be empty"}
	}
	return nil
}

type Submitter interface {
	SubmitReport(ctx context.Context, text string) (model.Report, error)
}

// Submit creates a report and returns the server's extraction untouched.
func Submit(ctx context.Context, s Submitter, text string) (model.Report, error) {
	if err := RequireText(text); err != nil {
		return model.Report{}, err
	}
	return s.SubmitReport(ctx, text)
}
