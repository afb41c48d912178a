// Package swarmerr is the node's error taxonomy: a small set of
// sentinel kinds, each mapped to an HTTP status and error code so every
// component can produce the wire error envelope
// ({"error": {"code", "message", "details"}}) without duplicating the
// mapping logic.
package swarmerr

import (
	"errors"
	"net/http"
)

// Kind is one taxonomy entry.
type Kind string

const (
	KindEnvelopeInvalid   Kind = "INVALID_FORMAT"
	KindSignatureInvalid  Kind = "INVALID_SIGNATURE"
	KindNotAuthorized     Kind = "NOT_AUTHORIZED"
	KindNotMaster         Kind = "NOT_MASTER"
	KindNotMember         Kind = "NOT_MEMBER"
	KindInvitesDisabled   Kind = "INVITES_DISABLED"
	KindApprovalRequired  Kind = "APPROVAL_REQUIRED"
	KindTransferDeclined  Kind = "TRANSFER_DECLINED"
	KindNoPendingTransfer Kind = "NO_PENDING_TRANSFER"
	KindSwarmNotFound     Kind = "SWARM_NOT_FOUND"
	KindMemberNotFound    Kind = "MEMBER_NOT_FOUND"
	KindInvalidToken      Kind = "INVALID_TOKEN"
	KindTokenExpired      Kind = "TOKEN_EXPIRED"
	KindTokenExhausted    Kind = "TOKEN_EXHAUSTED"
	KindTokenRevoked      Kind = "TOKEN_REVOKED"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindInternal          Kind = "INTERNAL_ERROR"
)

// httpStatus maps each kind to the status it travels as.
var httpStatus = map[Kind]int{
	KindEnvelopeInvalid:   http.StatusBadRequest,
	KindSignatureInvalid:  http.StatusUnauthorized,
	KindNotAuthorized:     http.StatusForbidden,
	KindNotMaster:         http.StatusForbidden,
	KindNotMember:         http.StatusForbidden,
	KindInvitesDisabled:   http.StatusForbidden,
	KindApprovalRequired:  http.StatusAccepted,
	KindTransferDeclined:  http.StatusConflict,
	KindNoPendingTransfer: http.StatusNotFound,
	KindSwarmNotFound:     http.StatusNotFound,
	KindMemberNotFound:    http.StatusNotFound,
	KindInvalidToken:      http.StatusBadRequest,
	KindTokenExpired:      http.StatusBadRequest,
	KindTokenExhausted:    http.StatusForbidden,
	KindTokenRevoked:      http.StatusForbidden,
	KindRateLimited:       http.StatusTooManyRequests,
	KindInternal:          http.StatusInternalServerError,
}

// APIError is a taxonomy error carrying the fields the error envelope needs.
type APIError struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *APIError) Unwrap() error { return e.cause }

// HTTPStatus returns the status code this error's kind maps to.
func (e *APIError) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an APIError of the given kind.
func New(kind Kind, message string) *APIError {
	return &APIError{Kind: kind, Message: message}
}

// Wrap constructs an APIError of the given kind, preserving cause for
// errors.Is/errors.As and %w-style unwrapping.
func Wrap(kind Kind, message string, cause error) *APIError {
	return &APIError{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details (the error envelope's "details").
func (e *APIError) WithDetails(details map[string]any) *APIError {
	e.Details = details
	return e
}

// Is lets errors.Is match two APIErrors with the same Kind, so callers
// can write errors.Is(err, swarmerr.New(swarmerr.KindNotMaster, "")) or,
// more conveniently, use the Is* helpers below.
func (e *APIError) Is(target error) bool {
	var other *APIError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *APIError; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}
