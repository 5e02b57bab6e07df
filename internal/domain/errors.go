package domain

import "errors"

// ErrorKind classifies identification failures.
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration"
	KindNetwork           ErrorKind = "network"
	KindAuthorization     ErrorKind = "authorization"
	KindUnknown           ErrorKind = "unknown"
	KindEmptyResponse     ErrorKind = "empty_response"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// IdentificationError is the single failure type of the identification pipeline.
// Message is user-facing; Err keeps the upstream cause for logs.
type IdentificationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *IdentificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *IdentificationError) Unwrap() error {
	return e.Err
}

// KindOf returns the identification kind of err, or "" when err is not an IdentificationError.
func KindOf(err error) ErrorKind {
	var idErr *IdentificationError
	if errors.As(err, &idErr) {
		return idErr.Kind
	}
	return ""
}
