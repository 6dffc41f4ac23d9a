package util

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrInvalidUUID is returned when a value is not a UUID v4.
	ErrInvalidUUID = errors.New("invalid uuid v4")
	// ErrInvalidPhone is returned when a recipient is not a dialable number.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidURL indicates that a URL failed validation.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidTemplateName indicates a template name is malformed.
	ErrInvalidTemplateName = errors.New("invalid template name")
	// ErrInvalidLanguageCode indicates a template language code is malformed.
	ErrInvalidLanguageCode = errors.New("invalid language code")
)

var (
	// Digits with an optional leading plus and country code, E.164 length bounds.
	phonePattern        = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)
	templateNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}(_[A-Za-z]{2,4})?$`)
	phoneSeparators     = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

const maxTemplateNameLen = 512

// NewMessageID returns a fresh UUID v4 string used to correlate a send across
// logs and status events.
func NewMessageID() string {
	return uuid.NewString()
}

// ParseUUIDv4 parses and validates a UUID string, ensuring it is version 4.
func ParseUUIDv4(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.UUID{}, fmt.Errorf("%w: value is empty", ErrInvalidUUID)
	}

	u, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %v", ErrInvalidUUID, err)
	}

	if u.Version() != 4 {
		return uuid.UUID{}, fmt.Errorf("%w: expected version 4", ErrInvalidUUID)
	}

	return u, nil
}

// NormalizeRecipient strips common separators from a phone number and checks
// that what remains is digits, optionally prefixed with '+'. The provider
// accepts the number with or without the plus sign so it is preserved as given.
func NormalizeRecipient(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidPhone)
	}

	normalized := phoneSeparators.Replace(trimmed)
	if !phonePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, trimmed)
	}

	return normalized, nil
}

// ValidateTemplateName checks the shape of a template name. Whether the
// template exists is only known to the provider.
func ValidateTemplateName(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidTemplateName)
	}
	if utf8.RuneCountInString(trimmed) > maxTemplateNameLen {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTemplateName, maxTemplateNameLen)
	}
	if !templateNamePattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTemplateName, trimmed)
	}
	return trimmed, nil
}

// ValidateLanguageCode accepts provider locale codes such as "en", "en_US"
// or "zh_HK".
func ValidateLanguageCode(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidLanguageCode)
	}
	if !languageCodePattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguageCode, trimmed)
	}
	return trimmed, nil
}

// ValidateMetadata enforces constraints on metadata maps and returns a copy
// containing trimmed keys and values.
func ValidateMetadata(meta map[string]string, maxEntries, maxKeyLen, maxValueLen int) (map[string]string, error) {
	if len(meta) == 0 {
		return nil, nil
	}

	if maxEntries > 0 && len(meta) > maxEntries {
		return nil, fmt.Errorf("metadata entries exceeded: got %d, max %d", len(meta), maxEntries)
	}

	out := make(map[string]string, len(meta))
	for rawKey, rawValue := range meta {
		key := strings.TrimSpace(rawKey)
		value := strings.TrimSpace(rawValue)

		if key == "" {
			return nil, errors.New("metadata key cannot be empty")
		}

		if maxKeyLen > 0 && utf8.RuneCountInString(key) > maxKeyLen {
			return nil, fmt.Errorf("metadata key %q exceeds max length %d", key, maxKeyLen)
		}

		if maxValueLen > 0 && utf8.RuneCountInString(value) > maxValueLen {
			return nil, fmt.Errorf("metadata value for %q exceeds max length %d", key, maxValueLen)
		}

		out[key] = value
	}

	return out, nil
}

// ValidateHTTPURL ensures the provided string is a valid HTTP or HTTPS URL.
func ValidateHTTPURL(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	return trimmed, nil
}
