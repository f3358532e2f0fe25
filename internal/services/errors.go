// Package services defines the business logic for handling channel mentions.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages is performed inside the mention pipeline, which
// posts a short notice to the originating thread before returning.
package services

import "errors"

var (
	// ErrUpstreamTimeout is returned when a completion attempt exceeded the
	// configured deadline. The pipeline stops immediately; remaining fallback
	// models are not tried.
	ErrUpstreamTimeout = errors.New("completion timed out")

	// ErrModelsExhausted is returned when every candidate model was rejected
	// with a quota failure.
	ErrModelsExhausted = errors.New("all candidate models rate limited")

	// ErrUpstreamFailed is returned for a completion failure that is neither
	// a timeout nor a quota rejection.
	ErrUpstreamFailed = errors.New("completion failed")
)
