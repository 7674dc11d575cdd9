// ABOUTME: Classified failures for data-surface and management-surface requests.
// ABOUTME: Classifies on status and structured SQLSTATE/PostgREST codes first, substrings last.
package rest

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Kind classifies a failed request.
type Kind string

const (
	KindMissingColumn       Kind = "missing_column"
	KindMissingTable        Kind = "missing_table"
	KindMissingFunction     Kind = "missing_function"
	KindAlreadyExists       Kind = "already_exists"
	KindConstraintViolation Kind = "constraint_violation"
	KindUnauthorized        Kind = "unauthorized"
	KindNetwork             Kind = "network"
	KindOther               Kind = "other"
)

// ErrNoExecPath is returned by ApplySQL when neither the management endpoint
// nor a helper RPC could run the statement.
var ErrNoExecPath = errors.New("no SQL execution path available")

// Error is a classified failure. Code holds the SQLSTATE or PostgREST code
// when the server sent one.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d", e.Status)
		if e.Code != "" {
			b.WriteString(", " + e.Code)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if e.Details != "" {
		b.WriteString(" (" + e.Details + ")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindOther for unclassified errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindOther
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// CredentialsRejected reports whether the data surface refused the service
// key itself, as opposed to a privilege check on one statement.
func CredentialsRejected(err error) bool {
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindUnauthorized {
		return false
	}
	return re.Status == http.StatusUnauthorized || re.Code == "PGRST301" || re.Code == "PGRST302"
}

// sqlStateKinds maps SQLSTATE and PostgREST codes to kinds.
var sqlStateKinds = map[string]Kind{
	"42703":    KindMissingColumn,
	"PGRST204": KindMissingColumn,
	"42P01":    KindMissingTable,
	"PGRST205": KindMissingTable,
	"42883":    KindMissingFunction,
	"PGRST202": KindMissingFunction,
	"42P07":    KindAlreadyExists,
	"42710":    KindAlreadyExists,
	"42701":    KindAlreadyExists,
	"23505":    KindConstraintViolation,
	"23514":    KindConstraintViolation,
	"23502":    KindConstraintViolation,
	"23503":    KindConstraintViolation,
	"23P01":    KindConstraintViolation,
	"42501":    KindUnauthorized,
	"PGRST301": KindUnauthorized,
	"PGRST302": KindUnauthorized,
}

// embeddedState finds a SQLSTATE inside a management-API message such as
// "Failed to run sql query: ERROR:  42P07: relation \"x\" already exists".
var embeddedState = regexp.MustCompile(`ERROR:\s+([0-9A-Z]{5}):`)

// classify builds an Error from an HTTP response status and decoded payload.
func classify(status int, payload errorPayload) *Error {
	e := &Error{
		Status:  status,
		Code:    payload.Code,
		Message: payload.message(),
		Details: payload.Details,
		Hint:    payload.Hint,
	}
	if e.Code == "" {
		if m := embeddedState.FindStringSubmatch(e.Message); m != nil {
			e.Code = m[1]
		}
	}
	e.Kind = kindFor(status, e.Code, e.Message+" "+e.Details)
	return e
}

func kindFor(status int, code, text string) Kind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return KindUnauthorized
	}
	if k, ok := sqlStateKinds[code]; ok {
		return k
	}
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindNetwork
	}
	return kindFromText(text)
}

// kindFromText is the substring fallback for payloads without a usable code.
func kindFromText(text string) Kind {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "already exists"):
		return KindAlreadyExists
	case strings.Contains(t, "duplicate"):
		return KindConstraintViolation
	case strings.Contains(t, "violates"):
		return KindConstraintViolation
	case strings.Contains(t, "could not find the function"),
		strings.Contains(t, "function") && strings.Contains(t, "does not exist"):
		return KindMissingFunction
	case strings.Contains(t, "column") && (strings.Contains(t, "does not exist") || strings.Contains(t, "could not find")):
		return KindMissingColumn
	case strings.Contains(t, "does not exist"), strings.Contains(t, "could not find the table"):
		return KindMissingTable
	case strings.Contains(t, "invalid api key"), strings.Contains(t, "jwt"):
		return KindUnauthorized
	}
	return KindOther
}

// errorPayload covers PostgREST ({code,message,details,hint}) and the
// management API ({message} or {error}).
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
	Error   string `json:"error"`
	Msg     string `json:"msg"`
}

func (p errorPayload) message() string {
	switch {
	case p.Message != "":
		return p.Message
	case p.Error != "":
		return p.Error
	default:
		return p.Msg
	}
}

// networkError wraps a transport failure.
func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

// isSQLLevel reports whether the database itself evaluated and rejected a
// statement, as opposed to the path being unavailable.
func isSQLLevel(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	switch re.Kind {
	case KindMissingColumn, KindMissingTable, KindAlreadyExists, KindConstraintViolation:
		return true
	case KindUnauthorized, KindNetwork, KindMissingFunction:
		return false
	}
	return re.Code != "" && !strings.HasPrefix(re.Code, "PGRST")
}
