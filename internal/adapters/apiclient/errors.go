package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NetworkErrorMessage is shown when no HTTP response was received.
const NetworkErrorMessage = "Network error. Please check your connection and try again."

// HTTPError is every failure the client reports. Status 0 means there was no
// HTTP response at all. Message is always safe to show to a user.
type HTTPError struct {
	Status  int
	Message string
	// Details is the decoded error body, or the transport error.
	Details any
	Header  http.Header
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Unwrap exposes a transport error kept in Details.
func (e *HTTPError) Unwrap() error {
	if err, ok := e.Details.(error); ok {
		return err
	}
	return nil
}

// StatusOf returns the status of an *HTTPError in err's chain, or -1.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return -1
}

// MessageOf returns the user-facing message of err, or fallback.
func MessageOf(err error, fallback string) string {
	var he *HTTPError
	if errors.As(err, &he) && strings.TrimSpace(he.Message) != "" {
		return he.Message
	}
	return fallback
}

// BackendMessage finds the message a backend error body carries: message,
// then a string detail, then the first validation entry's msg.
func BackendMessage(details any) (string, bool) {
	body, ok := details.(map[string]any)
	if !ok {
		return "", false
	}
	if m, ok := body["message"].(string); ok && strings.TrimSpace(m) != "" {
		return strings.TrimSpace(m), true
	}
	switch d := body["detail"].(type) {
	case string:
		if strings.TrimSpace(d) != "" {
			return strings.TrimSpace(d), true
		}
	case []any:
		if len(d) > 0 {
			if first, ok := d[0].(map[string]any); ok {
				if m, ok := first["msg"].(string); ok && strings.TrimSpace(m) != "" {
					return strings.TrimSpace(m), true
				}
			}
		}
	}
	return "", false
}

// ExtractErrorMessage returns the backend message or a generic one naming status.
func ExtractErrorMessage(details any, status int) string {
	if m, ok := BackendMessage(details); ok {
		return m
	}
	return fmt.Sprintf("Request failed with status %d", status)
}

func decodeDetails(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" {
			return s
		}
		return nil
	}
	return v
}

// rule maps one status to a message. preferBackend lets a backend message win.
type rule struct {
	status        int
	message       string
	preferBackend bool
}

// table maps failures of one operation to user-facing messages.
type table struct {
	rules    []rule
	fallback string
	// networkStatusZero reports transport failures as status 0 with the
	// network message instead of the fallback.
	networkStatusZero bool
}

func (t table) apply(err error) error {
	var he *HTTPError
	if !errors.As(err, &he) {
		return err
	}
	if he.Status == 0 {
		if t.networkStatusZero {
			return &HTTPError{Status: 0, Message: NetworkErrorMessage, Details: he.Details}
		}
		return &HTTPError{Status: http.StatusInternalServerError, Message: t.fallback, Details: he.Details}
	}
	backend, hasBackend := BackendMessage(he.Details)
	out := &HTTPError{Status: he.Status, Details: he.Details, Header: he.Header}
	for _, r := range t.rules {
		if r.status != he.Status {
			continue
		}
		out.Message = r.message
		if r.preferBackend && hasBackend {
			out.Message = backend
		}
		return out
	}
	out.Message = t.fallback
	if hasBackend {
		out.Message = backend
	}
	return out
}

const (
	msgInviteInvalid = "That invite link is invalid."
	msgInviteExpired = "That invite link has expired."
)

var (
	bootstrapTable = table{
		rules: []rule{
			{status: http.StatusNotFound, message: msgInviteInvalid},
			{status: http.StatusGone, message: msgInviteExpired},
		},
		fallback:          "Something went wrong loading your simulation.",
		networkStatusZero: true,
	}
	verifyTable = table{
		rules: []rule{
			{status: http.StatusNotFound, message: msgInviteInvalid},
			{status: http.StatusGone, message: msgInviteExpired},
			{status: http.StatusUnauthorized, message: "That email does not match this invite.", preferBackend: true},
			{status: http.StatusForbidden, message: "That email does not match this invite.", preferBackend: true},
		},
		fallback: "Unable to verify your email right now. Please try again.",
	}
	currentTaskTable = table{
		rules: []rule{
			{status: http.StatusNotFound, message: "Session not found. Please reopen your invite link.", preferBackend: true},
			{status: http.StatusGone, message: msgInviteExpired},
		},
		fallback:          "Something went wrong loading your current task.",
		networkStatusZero: true,
	}
	submitTable = table{
		rules: []rule{
			{status: http.StatusBadRequest, message: "Task out of order.", preferBackend: true},
			{status: http.StatusNotFound, message: "Session mismatch. Please reopen your invite link.", preferBackend: true},
			{status: http.StatusConflict, message: "Task already submitted.", preferBackend: true},
			{status: http.StatusGone, message: msgInviteExpired, preferBackend: true},
		},
		fallback:          "Something went wrong submitting your task.",
		networkStatusZero: true,
	}
	profileTable     = table{fallback: "Unable to load your profile right now."}
	simulationsTable = table{fallback: "Failed to load simulations."}
	candidatesTable  = table{fallback: "Failed to load candidates."}
	inviteTable      = table{
		rules: []rule{
			{status: http.StatusConflict, message: "That candidate has already been invited.", preferBackend: true},
			{status: http.StatusUnprocessableEntity, message: "Please enter a valid email address.", preferBackend: true},
			{status: http.StatusTooManyRequests, message: "Too many invites. Please wait and try again.", preferBackend: true},
		},
		fallback: "Failed to invite candidate.",
	}
	resendTable = table{
		rules: []rule{
			{status: http.StatusTooManyRequests, message: "Please wait before resending this invite.", preferBackend: true},
		},
		fallback: "Failed to resend invite.",
	}
)
