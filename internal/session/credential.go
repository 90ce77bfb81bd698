package session

import (
	"errors"
	"strings"

	"relief-cli/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMalformedCredential = errors.New("malformed credential")

// MalformedCredentialError describes why a credential could not be decoded.
// It matches ErrMalformedCredential with errors.Is.
type MalformedCredentialError struct {
	Reason string
	Err    error
}

func (e *MalformedCredentialError) Error() string {
	msg := "malformed credential: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedCredentialError) Unwrap() error { return e.Err }

func (e *MalformedCredentialError) Is(target error) bool { return target == ErrMalformedCredential }

// Decode reads the role and subject claims from raw without checking the
// signature. The server remains the only authority on validity.
func Decode(raw string) (model.Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Session{}, &MalformedCredentialError{Reason: "empty"}
	}
	if strings.Count(raw, ".") != 2 {
		return model.Session{}, &MalformedCredentialError{Reason: "expected three dot-separated segments"}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return model.Session{}, &MalformedCredentialError{Reason: "unreadable payload", Err: err}
	}
	roleClaim, _ := claims["role"].(string)
	role := model.Role(strings.TrimSpace(roleClaim))
	if !role.Valid() {
		return model.Session{}, &MalformedCredentialError{Reason: "missing or unknown role claim"}
	}
	sub, _ := claims.GetSubject()
	return model.Session{Credential: raw, Role: role, Subject: sub}, nil
}
