package client

import "fmt"

// ClientError is the shared base embedded in every typed error of this
// package. It carries a human-readable message and an optional cause.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error { return e.Cause }

// RequestBuildError indicates the request body or URL could not be
// constructed: unsupported content (e.g. network images on a provider that
// cannot fetch them) or an unknown model name.
type RequestBuildError struct {
	ClientError
}

// TransportError indicates a connection or I/O failure while talking to the
// provider.
type TransportError struct {
	ClientError
}

// AuthError indicates a credential fetch failure or a provider-signaled
// authentication rejection. Reactive rejections also invalidate the cached
// token so the next call re-fetches.
type AuthError struct {
	ClientError
}

// ProviderError is a classified vendor error envelope. Kind carries the
// provider-specific type, code, or status string.
type ProviderError struct {
	ClientError
	Provider string
	Kind     string
	Status   int
}

// MalformedResponseError indicates a success-status payload missing the
// expected fields. A 200 with an unexpected shape is still an error.
type MalformedResponseError struct {
	ClientError
}

// StreamProtocolError indicates an unparseable stream frame, an unexpected
// content type, or a stream that terminated without a clean end signal.
type StreamProtocolError struct {
	ClientError
}

// invalidResponseError is the shared fallback for unrecognized error
// envelopes.
func invalidResponseError(status int, data []byte) *ProviderError {
	return &ProviderError{
		ClientError: ClientError{
			Message: fmt.Sprintf("Invalid response, status: %d, data: %s", status, data),
		},
		Status: status,
	}
}
