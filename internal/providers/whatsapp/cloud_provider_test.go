package whatsapp_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wa-template-sender/internal/config"
	waprovider "github.com/example/wa-template-sender/internal/providers/whatsapp"
)

const successBody = `{"messaging_product":"whatsapp","contacts":[{"input":"543512347050","wa_id":"543512347050"}],"messages":[{"id":"wamid.HBgLNTQzNTEy","message_status":"accepted"}],"extra":{"kept":true}}`

func testConfig() config.WhatsAppConfig {
	return config.WhatsAppConfig{
		AccessToken:   "test-token",
		PhoneNumberID: "596710453530356",
		APIVersion:    "v22.0",
	}
}

func testPayload() *waprovider.Payload {
	return &waprovider.Payload{
		MessageID:    "b0c9c2b0-1f3a-4d2d-9e3f-123456789abc",
		To:           "543512347050",
		TemplateName: "hello_world",
		LanguageCode: "en_US",
	}
}

type capturedRequest struct {
	method  string
	path    string
	headers http.Header
	body    []byte
}

func newServer(t *testing.T, status int, body string, hits *atomic.Int64, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if captured != nil {
			data, _ := io.ReadAll(r.Body)
			*captured = capturedRequest{method: r.Method, path: r.URL.Path, headers: r.Header.Clone(), body: data}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, baseURL string, opts ...waprovider.CloudOption) *waprovider.CloudProvider {
	t.Helper()
	opts = append([]waprovider.CloudOption{waprovider.WithCloudBaseURL(baseURL)}, opts...)
	provider, err := waprovider.NewCloudProvider(testConfig(), zerolog.Nop(), opts...)
	require.NoError(t, err)
	return provider
}

func TestNewCloudProviderRequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.AccessToken = " "
	_, err := waprovider.NewCloudProvider(cfg, zerolog.Nop())
	require.Error(t, err)

	cfg = testConfig()
	cfg.PhoneNumberID = ""
	_, err = waprovider.NewCloudProvider(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestNewCloudProviderRejectsBaseURLWithoutScheme(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = "graph.facebook.com"
	_, err := waprovider.NewCloudProvider(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base url")
}

func TestCloudProviderEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.APIVersion = ""
	provider, err := waprovider.NewCloudProvider(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "https://graph.facebook.com/v22.0/596710453530356/messages", provider.Endpoint())

	provider = newProvider(t, "http://localhost:9999/")
	assert.Equal(t, "http://localhost:9999/v22.0/596710453530356/messages", provider.Endpoint())
}

func TestCloudProviderSendSuccess(t *testing.T) {
	var hits atomic.Int64
	var captured capturedRequest
	srv := newServer(t, http.StatusOK, successBody, &hits, &captured)
	fixed := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	provider := newProvider(t, srv.URL, waprovider.WithCloudClock(func() time.Time { return fixed }))

	resp, err := provider.Send(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, fixed, resp.Timestamp)

	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/v22.0/596710453530356/messages", captured.path)
	assert.Equal(t, "Bearer test-token", captured.headers.Get("Authorization"))
	assert.Equal(t, "application/json", captured.headers.Get("Content-Type"))
	assert.JSONEq(t, `{"messaging_product":"whatsapp","to":"543512347050","type":"template","template":{"name":"hello_world","language":{"code":"en_US"}}}`, string(captured.body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, successBody, string(resp.Body))
	assert.Equal(t, "wamid.HBgLNTQzNTEy", resp.MessageID())
	require.Len(t, resp.Result.Contacts, 1)
	assert.Equal(t, "543512347050", resp.Result.Contacts[0].WaID)

	var want map[string]any
	require.NoError(t, json.Unmarshal([]byte(successBody), &want))
	assert.Equal(t, want, resp.Fields)
}

func TestCloudProviderProviderError(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusUnauthorized, `{"error":{"code":190,"message":"Invalid token"}}`, &hits, nil)
	provider := newProvider(t, srv.URL)

	resp, err := provider.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.Nil(t, resp)

	var perr *waprovider.ProviderError
	require.True(t, errors.As(err, &perr), "expected ProviderError, got %T", err)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.Equal(t, 190, perr.Code)
	assert.Equal(t, "Invalid token", perr.Message)
	assert.Equal(t, `{"error":{"code":190,"message":"Invalid token"}}`, perr.Body)
	assert.False(t, perr.Retryable())
	assert.Equal(t, waprovider.FailureProvider, waprovider.ClassifyFailure(err))
	assert.Equal(t, int64(1), hits.Load())
}

func TestCloudProviderProviderErrorWithoutJSONBody(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusBadGateway, "upstream unavailable", &hits, nil)
	provider := newProvider(t, srv.URL)

	_, err := provider.Send(context.Background(), testPayload())

	var perr *waprovider.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
	assert.Equal(t, "upstream unavailable", perr.Body)
	assert.Zero(t, perr.Code)
	assert.True(t, perr.Retryable())
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestCloudProviderNonOKSuccessStatusIsProviderError(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusAccepted, successBody, &hits, nil)
	provider := newProvider(t, srv.URL)

	_, err := provider.Send(context.Background(), testPayload())
	assert.Equal(t, waprovider.FailureProvider, waprovider.ClassifyFailure(err))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type countingClient struct {
	calls atomic.Int64
	err   error
}

func (c *countingClient) Do(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, &url.Error{Op: "Post", URL: req.URL.String(), Err: c.err}
}

func TestCloudProviderTransportTimeoutIsNotRetried(t *testing.T) {
	client := &countingClient{err: timeoutError{}}
	provider := newProvider(t, "http://graph.invalid", waprovider.WithCloudHTTPClient(client))

	resp, err := provider.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.Nil(t, resp)

	var terr *waprovider.TransportError
	require.True(t, errors.As(err, &terr), "expected TransportError, got %T", err)
	assert.True(t, terr.Timeout())
	assert.ErrorIs(t, err, timeoutError{})
	assert.Equal(t, waprovider.FailureTransport, waprovider.ClassifyFailure(err))
	assert.Equal(t, int64(1), client.calls.Load())
}

func TestCloudProviderClientTimeout(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	provider := newProvider(t, srv.URL, waprovider.WithCloudTimeout(50*time.Millisecond))

	_, err := provider.Send(context.Background(), testPayload())
	var terr *waprovider.TransportError
	require.True(t, errors.As(err, &terr), "expected TransportError, got %v", err)
	assert.True(t, terr.Timeout())
	assert.LessOrEqual(t, hits.Load(), int64(1))
}

func TestCloudProviderConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	provider := newProvider(t, baseURL)
	_, err := provider.Send(context.Background(), testPayload())
	assert.Equal(t, waprovider.FailureTransport, waprovider.ClassifyFailure(err))
}

func TestCloudProviderProtocolErrorOnEmptyBody(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusOK, "", &hits, nil)
	provider := newProvider(t, srv.URL)

	resp, err := provider.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.Nil(t, resp)

	var perr *waprovider.ProtocolError
	require.True(t, errors.As(err, &perr), "expected ProtocolError, got %T", err)
	assert.Equal(t, http.StatusOK, perr.StatusCode)
	assert.Equal(t, waprovider.FailureProtocol, waprovider.ClassifyFailure(err))
}

func TestCloudProviderProtocolErrorOnMalformedBody(t *testing.T) {
	for _, body := range []string{"<html>ok</html>", "null", `["wamid"]`, `{"messages":"not-a-list"}`} {
		var hits atomic.Int64
		srv := newServer(t, http.StatusOK, body, &hits, nil)
		provider := newProvider(t, srv.URL)

		_, err := provider.Send(context.Background(), testPayload())
		assert.Equal(t, waprovider.FailureProtocol, waprovider.ClassifyFailure(err), "body %q", body)
	}
}

func TestCloudProviderRejectsInvalidPayloadWithoutRequest(t *testing.T) {
	client := &countingClient{err: errors.New("unexpected call")}
	provider := newProvider(t, "http://graph.invalid", waprovider.WithCloudHTTPClient(client))

	payload := testPayload()
	payload.To = ""
	_, err := provider.Send(context.Background(), payload)
	assert.ErrorIs(t, err, waprovider.ErrInvalidPayload)

	_, err = provider.Send(context.Background(), nil)
	assert.ErrorIs(t, err, waprovider.ErrInvalidPayload)
	assert.Equal(t, int64(0), client.calls.Load())
}

func TestCloudProviderIdenticalSendsAreIndependent(t *testing.T) {
	var hits atomic.Int64
	srv := newServer(t, http.StatusOK, successBody, &hits, nil)
	provider := newProvider(t, srv.URL)

	for i := 0; i < 2; i++ {
		_, err := provider.Send(context.Background(), testPayload())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestOutboundMessageRoundTrip(t *testing.T) {
	payloads := []*waprovider.Payload{
		testPayload(),
		{To: "+15551234567", TemplateName: "order_update", LanguageCode: "es_AR"},
		{To: "447700900123", TemplateName: "shipping_ñ_notice", LanguageCode: "pt_BR"},
	}

	for _, p := range payloads {
		data, err := json.Marshal(waprovider.NewOutboundMessage(p))
		require.NoError(t, err)

		var decoded waprovider.OutboundMessage
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, p.To, decoded.To)
		assert.Equal(t, p.TemplateName, decoded.Template.Name)
		assert.Equal(t, p.LanguageCode, decoded.Template.Language.Code)
		assert.Equal(t, waprovider.MessagingProduct, decoded.MessagingProduct)
		assert.Equal(t, waprovider.MessageTypeTemplate, decoded.Type)
	}
}

func TestCloudProviderReadsLargeSuccessBodyInFull(t *testing.T) {
	var hits atomic.Int64
	body := `{"messaging_product":"whatsapp","messages":[{"id":"wamid.X"}],"pad":"` + strings.Repeat("a", 20*1024) + `"}`
	srv := newServer(t, http.StatusOK, body, &hits, nil)
	provider := newProvider(t, srv.URL, waprovider.WithCloudBodyLimit(16*1024))

	resp, err := provider.Send(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "wamid.X", resp.MessageID())
	assert.Len(t, resp.Body, len(body))
}

func TestCloudProviderMarksOversizedErrorBody(t *testing.T) {
	var hits atomic.Int64
	body := strings.Repeat("x", 64)
	srv := newServer(t, http.StatusInternalServerError, body, &hits, nil)
	provider := newProvider(t, srv.URL, waprovider.WithCloudBodyLimit(16))

	_, err := provider.Send(context.Background(), testPayload())

	var perr *waprovider.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Truncated)
	assert.Equal(t, body[:16], perr.Body)

	srv = newServer(t, http.StatusInternalServerError, body[:16], &hits, nil)
	provider = newProvider(t, srv.URL, waprovider.WithCloudBodyLimit(16))
	_, err = provider.Send(context.Background(), testPayload())
	require.True(t, errors.As(err, &perr))
	assert.False(t, perr.Truncated)
	assert.Equal(t, body[:16], perr.Body)
}
