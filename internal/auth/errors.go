// File: internal/auth/errors.go
package auth

import "errors"

// ErrorCode is a string type used for structured failure reporting from the
// login stages. Using a custom type ensures only predefined constants appear
// where an ErrorCode is expected.
type ErrorCode string

const (
	// -- Transient UI conditions, consumed by the fallback chains --
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"

	// -- Soft failures, reported upward as retry-whole-flow --
	ErrCodeEmailStepFailed      ErrorCode = "EMAIL_STEP_FAILED"
	ErrCodeSecondFactorRejected ErrorCode = "SECOND_FACTOR_REJECTED"
	ErrCodeChannelExhausted     ErrorCode = "CHANNEL_EXHAUSTED"
	ErrCodeCodeRetrievalFailed  ErrorCode = "CODE_RETRIEVAL_FAILED"

	// -- Fatal conditions that cross the Login boundary --
	ErrCodeAccountLocked ErrorCode = "ACCOUNT_LOCKED"
	ErrCodeUnrecoverable ErrorCode = "UNRECOVERABLE"

	// -- Security, handled by the incident pipeline rather than thrown --
	ErrCodeStandbyActive ErrorCode = "STANDBY_ACTIVE"
)

// ErrAccountLocked is one of the two failure classes that propagate out of
// Login; everything else is converted into events or retries.
var ErrAccountLocked = errors.New("auth: account locked by provider")
