package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FetchError is any transport or HTTP failure on a backend call.
type FetchError struct {
	Op     string
	Method string
	Path   string
	// Status is 0 when the request never got a response.
	Status int
	// Detail is the server-provided message, if any.
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %s", e.Op, e.Method, e.Path)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": %d %s", e.Status, http.StatusText(e.Status))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func (e *FetchError) NotFound() bool { return e.Status == http.StatusNotFound }

// parseDetail extracts the backend's "detail" field. Validation failures carry
// a list of {loc, msg} objects instead of a string.
func parseDetail(body []byte) string {
	var env struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if len(env.Detail) > 0 {
		var s string
		if err := json.Unmarshal(env.Detail, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(env.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if m := strings.TrimSpace(it.Msg); m != "" {
					msgs = append(msgs, m)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	if s := strings.TrimSpace(env.Error); s != "" {
		return s
	}
	return strings.TrimSpace(env.Message)
}

// Detail returns the server-provided detail carried by err, if any.
func Detail(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Detail
	}
	return ""
}

// UserMessage renders err for a user-facing notice: the server detail when
// present, else fallback followed by the error text.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if d := Detail(err); d != "" {
		if fallback == "" {
			return d
		}
		return fallback + ": " + d
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fallback == "" {
			fallback = "request failed"
		}
		if fe.Status != 0 {
			return fmt.Sprintf("%s (%d %s)", fallback, fe.Status, http.StatusText(fe.Status))
		}
		return fallback + ": network error"
	}
	if fallback == "" {
		return err.Error()
	}
	return fallback + ": " + err.Error()
}
