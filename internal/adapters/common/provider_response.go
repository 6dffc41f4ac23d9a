package common

import "unicode/utf8"

// DefaultRawBodyLimit defines the maximum number of characters retained from a
// provider response body when attaching it to a ProviderResponse.
const DefaultRawBodyLimit = 1024

// Normalized outcome statuses.
const (
	StatusSent     = "sent"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// ProviderResponse captures the normalized outcome of a single send.
type ProviderResponse struct {
	Status      string            `json:"status"`
	FailureKind string            `json:"failure_kind,omitempty"`
	Code        *int              `json:"code,omitempty"`
	Message     string            `json:"message,omitempty"`
	Raw         string            `json:"raw,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// ProviderID returns the provider assigned message id, if recorded.
func (r *ProviderResponse) ProviderID() string {
	if r == nil || r.Meta == nil {
		return ""
	}
	return r.Meta["provider_id"]
}

// TruncateRaw trims the supplied string to the specified rune limit. If limit
// is zero or negative it returns an empty string.
func TruncateRaw(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}
