// Package types holds the wire envelopes shared by every API handler.
package types

// SuccessEnvelope wraps every 2xx payload so clients always unwrap the
// same "data" key, whether the body is a payment, a list, or a receipt.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-facing error body. Code is the stable machine
// code (VALIDATION_ERROR, CONFLICT, GATEWAY_ERROR, ...); Message is safe to
// show an end user. Details carries field-level validation output and is
// omitted for codes that must not leak internals.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps APIError under an "error" key, mirroring the
// success envelope's shape.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
