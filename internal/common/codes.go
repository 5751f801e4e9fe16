package common

// Error codes carried in the "code" field of HTTP error bodies. Clients
// map them back to the sentinel errors of this package.
const (
	CodeNotFound         = "not_found"
	CodeExpired          = "expired"
	CodeExhausted        = "exhausted"
	CodePasswordRequired = "password_required"
	CodePasswordInvalid  = "password_invalid"
	CodeRateLimited      = "rate_limited"
	CodeInvalidRequest   = "invalid_request"
	CodePayloadTooLarge  = "payload_too_large"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeTimeout          = "timeout"
	CodeInternal         = "internal"
)
