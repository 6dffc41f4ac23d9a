package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureKind names which stage of a send failed.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransport FailureKind = "transport"
	FailureProvider  FailureKind = "provider"
	FailureProtocol  FailureKind = "protocol"
	FailureUnknown   FailureKind = "unknown"
)

// TransportError means the request never produced an HTTP response: DNS,
// dial, TLS, timeout, cancellation or a broken body stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("whatsapp transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the underlying cause was a deadline.
func (e *TransportError) Timeout() bool {
	if e.Err == nil {
		return false
	}
	var te interface{ Timeout() bool }
	if errors.As(e.Err, &te) && te.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(e.Err.Error()), "deadline exceeded")
}

// ProviderError is a non-200 answer. Body is the provider's error body
// verbatim unless Truncated is set, in which case it holds the leading bytes
// up to the provider's body limit. The remaining fields are decoded from its
// "error" object when present.
type ProviderError struct {
	StatusCode int
	Body       string
	Truncated  bool
	Code       int
	Subcode    int
	Type       string
	Message    string
	TraceID    string
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp provider: http %d: error %d: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("whatsapp provider: http %d: %s", e.StatusCode, msg)
}

// Retryable reports whether the provider signalled a temporary condition.
// Nothing in this package retries; callers may use it for their own policy.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ProtocolError means the provider accepted the request but its response
// body could not be read as the expected JSON object.
type ProtocolError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("whatsapp protocol: http %d: unreadable response: %v", e.StatusCode, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ClassifyFailure maps an error returned by a Provider to its FailureKind.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var transportErr *TransportError
	var providerErr *ProviderError
	var protocolErr *ProtocolError
	switch {
	case errors.As(err, &transportErr):
		return FailureTransport
	case errors.As(err, &providerErr):
		return FailureProvider
	case errors.As(err, &protocolErr):
		return FailureProtocol
	default:
		return FailureUnknown
	}
}

type graphErrorEnvelope struct {
	Error *graphError `json:"error"`
}

type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

// newProviderError decodes the Graph API error object when the body carries
// one; an unparseable error body still yields a ProviderError with the raw text.
func newProviderError(status int, body []byte) *ProviderError {
	perr := &ProviderError{
		StatusCode: status,
		Body:       string(body),
	}
	var env graphErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		perr.Code = env.Error.Code
		perr.Subcode = env.Error.Subcode
		perr.Type = env.Error.Type
		perr.Message = env.Error.Message
		perr.TraceID = env.Error.FBTraceID
	}
	return perr
}
