package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind is a machine-readable error classification
type ErrorKind string

const (
	// Scoping keys missing from the call; always client errors
	KindMissingConnectionID   ErrorKind = "missing_connection_id"
	KindMissingProviderConfig ErrorKind = "missing_provider_config"
	KindMissingEnvironment    ErrorKind = "missing_environment"

	// Lookup misses
	KindUnknownConnection     ErrorKind = "unknown_connection"
	KindUnknownProviderConfig ErrorKind = "unknown_provider_config"
	KindUnknownEnvironment    ErrorKind = "unknown_environment"
	KindUnknownProvider       ErrorKind = "unknown_provider"

	KindConnectionAlreadyExists ErrorKind = "connection_already_exists"

	// Credential parsing
	KindIncompleteCredentials ErrorKind = "incomplete_credentials"
	KindUnsupportedAuthMode   ErrorKind = "unsupported_auth_mode"

	// Provider interaction
	KindRefreshFailed      ErrorKind = "refresh_failed"
	KindUpstreamProxyError ErrorKind = "upstream_proxy_error"

	// HTTP surface
	KindInvalidRequest ErrorKind = "invalid_request"
	KindUnauthorized   ErrorKind = "unauthorized"
)

// Sentinels for errors.Is; matching is by kind only
var (
	ErrMissingConnectionID     = &Error{Kind: KindMissingConnectionID}
	ErrMissingProviderConfig   = &Error{Kind: KindMissingProviderConfig}
	ErrMissingEnvironment      = &Error{Kind: KindMissingEnvironment}
	ErrUnknownConnection       = &Error{Kind: KindUnknownConnection}
	ErrUnknownProviderConfig   = &Error{Kind: KindUnknownProviderConfig}
	ErrUnknownEnvironment      = &Error{Kind: KindUnknownEnvironment}
	ErrUnknownProvider         = &Error{Kind: KindUnknownProvider}
	ErrConnectionAlreadyExists = &Error{Kind: KindConnectionAlreadyExists}
	ErrIncompleteCredentials   = &Error{Kind: KindIncompleteCredentials}
	ErrUnsupportedAuthMode     = &Error{Kind: KindUnsupportedAuthMode}
	ErrRefreshFailed           = &Error{Kind: KindRefreshFailed}
	ErrUpstreamProxyError      = &Error{Kind: KindUpstreamProxyError}
	ErrInvalidRequest          = &Error{Kind: KindInvalidRequest}
	ErrUnauthorized            = &Error{Kind: KindUnauthorized}
)

// Error is the broker's typed error. Fields carries diagnostic context
// (ids, environment name) and must never hold secret material. Raw keeps the
// offending payload for callers that inspect it; it is not part of Error().
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  map[string]string
	Raw     map[string]any
	Err     error
}

// NewError creates an error of the given kind
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithField attaches diagnostic context and returns the error for chaining
func (e *Error) WithField(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Wrap sets the underlying cause
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
