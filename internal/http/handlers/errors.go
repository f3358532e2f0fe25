// Package handlers defines HTTP-layer error codes used across the endpoints.
//
// These codes provide a stable, machine-readable taxonomy that supplements
// human-readable messages. The event sender retries on status alone, so the
// codes mainly serve log correlation and manual debugging.

package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
