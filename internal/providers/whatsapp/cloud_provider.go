package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/wa-template-sender/internal/config"
	"github.com/example/wa-template-sender/internal/logger"
	"github.com/example/wa-template-sender/internal/util"
)

const (
	defaultBaseURL      = "https://graph.facebook.com"
	defaultAPIVersion   = "v22.0"
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

var (
	// ErrInvalidPayload is returned before any network activity when the
	// payload is missing a required field.
	ErrInvalidPayload = errors.New("whatsapp cloud provider: invalid payload")

	errEmptyBody = errors.New("empty body")
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CloudOption customises the behaviour of the Cloud API provider.
type CloudOption func(*CloudProvider)

// WithCloudHTTPClient overrides the HTTP client used to talk to the Graph API.
// The client's own timeout then applies instead of WithCloudTimeout.
func WithCloudHTTPClient(client HTTPClient) CloudOption {
	return func(p *CloudProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithCloudBaseURL sets the Graph API host. Useful for tests.
func WithCloudBaseURL(baseURL string) CloudOption {
	return func(p *CloudProvider) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			p.baseURL = trimmed
		}
	}
}

// WithCloudTimeout bounds the whole request, including reading the body.
func WithCloudTimeout(d time.Duration) CloudOption {
	return func(p *CloudProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithCloudClock overrides the clock used for timestamps.
func WithCloudClock(now func() time.Time) CloudOption {
	return func(p *CloudProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithCloudBodyLimit caps how many bytes of a non-200 response body are kept.
// A 200 body is always read in full since the message was already accepted.
func WithCloudBodyLimit(limit int64) CloudOption {
	return func(p *CloudProvider) {
		if limit > 0 {
			p.maxBodyBytes = limit
		}
	}
}

// CloudProvider sends template messages through the WhatsApp Cloud API.
// It holds no mutable state and is safe for concurrent use.
type CloudProvider struct {
	logger        zerolog.Logger
	accessToken   string
	phoneNumberID string
	apiVersion    string
	baseURL       string
	timeout       time.Duration
	httpClient    HTTPClient
	now           func() time.Time
	maxBodyBytes  int64
}

// NewCloudProvider constructs a Cloud API backed provider.
func NewCloudProvider(cfg config.WhatsAppConfig, log zerolog.Logger, opts ...CloudOption) (*CloudProvider, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("whatsapp cloud provider: access token is required")
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("whatsapp cloud provider: phone number id is required")
	}
	if reflect.ValueOf(log).IsZero() {
		log = zerolog.Nop()
	}

	provider := &CloudProvider{
		logger:        log,
		accessToken:   strings.TrimSpace(cfg.AccessToken),
		phoneNumberID: strings.TrimSpace(cfg.PhoneNumberID),
		apiVersion:    strings.Trim(strings.TrimSpace(cfg.APIVersion), "/"),
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout:       defaultTimeout,
		now:           time.Now,
		maxBodyBytes:  defaultMaxBodyBytes,
	}
	if provider.apiVersion == "" {
		provider.apiVersion = defaultAPIVersion
	}
	if provider.baseURL == "" {
		provider.baseURL = defaultBaseURL
	}

	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}

	baseURL, err := util.ValidateHTTPURL(provider.baseURL)
	if err != nil {
		return nil, fmt.Errorf("whatsapp cloud provider: base url: %w", err)
	}
	provider.baseURL = baseURL

	if provider.httpClient == nil {
		provider.httpClient = &http.Client{Timeout: provider.timeout}
	}

	provider.logger.Debug().
		Str("endpoint", provider.Endpoint()).
		Str("token", logger.MaskSecret(provider.accessToken)).
		Dur("timeout", provider.timeout).
		Msg("whatsapp cloud provider configured")

	return provider, nil
}

// Endpoint returns the messages URL for the configured phone number.
func (p *CloudProvider) Endpoint() string {
	return fmt.Sprintf("%s/%s/%s/messages", p.baseURL, p.apiVersion, url.PathEscape(p.phoneNumberID))
}

// Send issues exactly one POST for the payload. Failures are reported as
// *TransportError, *ProviderError or *ProtocolError; nothing is retried.
func (p *CloudProvider) Send(ctx context.Context, payload *Payload) (*Response, error) {
	if err := checkPayload(payload); err != nil {
		return nil, err
	}

	body, err := json.Marshal(NewOutboundMessage(payload))
	if err != nil {
		return nil, fmt.Errorf("whatsapp cloud provider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp cloud provider: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := p.now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	respBody, truncated, err := p.readBody(resp.Body, resp.StatusCode == http.StatusOK)
	if err != nil {
		return nil, &TransportError{Op: "read body", Err: err}
	}

	log := p.logger.With().
		Str("message_id", payload.MessageID).
		Int("http_status", resp.StatusCode).
		Dur("elapsed", p.now().Sub(start)).
		Logger()

	if resp.StatusCode != http.StatusOK {
		perr := newProviderError(resp.StatusCode, respBody)
		perr.Truncated = truncated
		log.Debug().Int("provider_code", perr.Code).Str("provider_trace_id", perr.TraceID).Msg("whatsapp cloud api rejected message")
		return nil, perr
	}

	result, err := p.decodeSuccess(resp.StatusCode, respBody)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("provider_id", result.MessageID()).Msg("whatsapp cloud api accepted message")
	return result, nil
}

func (p *CloudProvider) decodeSuccess(status int, body []byte) (*Response, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ProtocolError{StatusCode: status, Body: string(body), Err: errEmptyBody}
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &ProtocolError{StatusCode: status, Body: string(body), Err: err}
	}
	if fields == nil {
		return nil, &ProtocolError{StatusCode: status, Body: string(body), Err: errors.New("body is not a json object")}
	}

	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ProtocolError{StatusCode: status, Body: string(body), Err: err}
	}

	return &Response{
		StatusCode: status,
		Body:       append(json.RawMessage(nil), body...),
		Fields:     fields,
		Result:     result,
		Timestamp:  p.now(),
	}, nil
}

// readBody reads up to maxBodyBytes and reports whether more was available.
// With full set the remainder is read as well and nothing is truncated.
func (p *CloudProvider) readBody(rc io.ReadCloser, full bool) ([]byte, bool, error) {
	if rc == nil {
		return nil, false, nil
	}
	body, err := io.ReadAll(io.LimitReader(rc, p.maxBodyBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) <= p.maxBodyBytes {
		return body, false, nil
	}
	if full {
		rest, err := io.ReadAll(rc)
		if err != nil {
			return nil, false, err
		}
		return append(body, rest...), false, nil
	}
	return body[:p.maxBodyBytes], true, nil
}

func checkPayload(payload *Payload) error {
	if payload == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.TemplateName) == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.LanguageCode) == "" {
		return fmt.Errorf("%w: language code is required", ErrInvalidPayload)
	}
	return nil
}
