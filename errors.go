package prism

import (
	"errors"
	"fmt"
)

// ErrorKind classifies protocol failures. Every kind is terminal for the
// round in which it occurs: callers discard the session and restart from
// GenShard.
type ErrorKind string

const (
	KindInvalidPeerSet            ErrorKind = "invalid_peer_set"
	KindInvalidRequest            ErrorKind = "invalid_request"
	KindKeyIDMismatch             ErrorKind = "key_id_mismatch"
	KindExpiredShare              ErrorKind = "expired_share"
	KindExpired                   ErrorKind = "expired"
	KindUnsafePoint               ErrorKind = "unsafe_point"
	KindAggregateSignatureInvalid ErrorKind = "aggregate_signature_invalid"
	KindDecryptionFailed          ErrorKind = "decryption_failed"
	KindSessionStateMissing       ErrorKind = "session_state_missing"
	KindInvalidState              ErrorKind = "invalid_state"
	KindInvalidToken              ErrorKind = "invalid_token"
	KindNotFound                  ErrorKind = "not_found"
	KindInternal                  ErrorKind = "internal"
)

// ProtocolError is the structured error returned by every node and client
// operation.
type ProtocolError struct {
	Kind    ErrorKind              `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Is matches any ProtocolError of the same kind, so sentinels work with
// errors.Is after WithCause/WithDetails copies.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *ProtocolError) clone() *ProtocolError {
	c := &ProtocolError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   e.Cause,
		Context: make(map[string]interface{}, len(e.Context)),
	}
	for k, v := range e.Context {
		c.Context[k] = v
	}
	return c
}

// WithContext returns a copy with key set in the context map
func (e *ProtocolError) WithContext(key string, value interface{}) *ProtocolError {
	c := e.clone()
	c.Context[key] = value
	return c
}

// WithCause returns a copy wrapping cause
func (e *ProtocolError) WithCause(cause error) *ProtocolError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithDetails returns a copy with formatted details
func (e *ProtocolError) WithDetails(format string, args ...interface{}) *ProtocolError {
	c := e.clone()
	c.Details = fmt.Sprintf(format, args...)
	return c
}

// NewProtocolError creates a new protocol error
func NewProtocolError(kind ErrorKind, code, message string) *ProtocolError {
	return &ProtocolError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

var (
	ErrInvalidPeerSet = NewProtocolError(KindInvalidPeerSet, "INVALID_PEER_SET",
		"peer set is invalid")

	ErrInvalidRequest = NewProtocolError(KindInvalidRequest, "INVALID_REQUEST",
		"request parameters are invalid")

	ErrKeyIDMismatch = NewProtocolError(KindKeyIDMismatch, "KEY_ID_MISMATCH",
		"key id does not match the request")

	ErrExpiredShare = NewProtocolError(KindExpiredShare, "EXPIRED_SHARE",
		"share timestamp is outside the freshness window")

	ErrExpired = NewProtocolError(KindExpired, "EXPIRED",
		"session state has expired")

	ErrUnsafePoint = NewProtocolError(KindUnsafePoint, "UNSAFE_POINT",
		"point is invalid or not safe")

	ErrAggregateSignatureInvalid = NewProtocolError(KindAggregateSignatureInvalid, "AGGREGATE_SIGNATURE_INVALID",
		"aggregate signature verification failed")

	ErrDecryptionFailed = NewProtocolError(KindDecryptionFailed, "DECRYPTION_FAILED",
		"envelope could not be opened")

	ErrSessionStateMissing = NewProtocolError(KindSessionStateMissing, "SESSION_STATE_MISSING",
		"no session state for key id")

	ErrInvalidState = NewProtocolError(KindInvalidState, "INVALID_STATE",
		"request out of order for session stage")

	// ErrKeyExists is an InvalidState error for a Commit on a key id that
	// already has a finalized record.
	ErrKeyExists = NewProtocolError(KindInvalidState, "KEY_EXISTS",
		"key id is already committed")

	ErrInvalidToken = NewProtocolError(KindInvalidToken, "INVALID_TOKEN",
		"transaction token is invalid")

	ErrNotFound = NewProtocolError(KindNotFound, "NOT_FOUND",
		"record not found")

	ErrInternal = NewProtocolError(KindInternal, "INTERNAL",
		"internal error")
)

var kindSentinels = map[ErrorKind]*ProtocolError{
	KindInvalidPeerSet:            ErrInvalidPeerSet,
	KindInvalidRequest:            ErrInvalidRequest,
	KindKeyIDMismatch:             ErrKeyIDMismatch,
	KindExpiredShare:              ErrExpiredShare,
	KindExpired:                   ErrExpired,
	KindUnsafePoint:               ErrUnsafePoint,
	KindAggregateSignatureInvalid: ErrAggregateSignatureInvalid,
	KindDecryptionFailed:          ErrDecryptionFailed,
	KindSessionStateMissing:       ErrSessionStateMissing,
	KindInvalidState:              ErrInvalidState,
	KindInvalidToken:              ErrInvalidToken,
	KindNotFound:                  ErrNotFound,
	KindInternal:                  ErrInternal,
}

// ErrorForKind returns the sentinel for kind, or ErrInternal for an unknown kind.
func ErrorForKind(kind ErrorKind) *ProtocolError {
	if e, ok := kindSentinels[kind]; ok {
		return e
	}
	return ErrInternal
}

// KindOf extracts the kind of a ProtocolError anywhere in err's chain.
// Errors that are not protocol errors report KindInternal.
func KindOf(err error) ErrorKind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// GetErrorContext extracts context from a protocol error
func GetErrorContext(err error) map[string]interface{} {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Context
	}
	return nil
}

// annotate adds a context entry when err is a ProtocolError and wraps it as
// internal otherwise.
func annotate(err error, key string, value interface{}) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.WithContext(key, value)
	}
	return ErrInternal.WithCause(err).WithContext(key, value)
}
