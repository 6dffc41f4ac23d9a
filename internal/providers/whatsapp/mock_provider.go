package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Scenario enumerates supported behaviours for the mock WhatsApp provider.
type Scenario string

const (
	ScenarioSuccess        Scenario = "success"
	ScenarioProviderError  Scenario = "provider_error"
	ScenarioTransportError Scenario = "transport_error"
	ScenarioProtocolError  Scenario = "protocol_error"
)

// Option customises the mock provider at construction time.
type Option func(*MockProvider)

// WithScenario overrides the default scenario.
func WithScenario(s Scenario) Option {
	return func(p *MockProvider) {
		p.defaultScenario = s
	}
}

// WithLatency sets the artificial latency inserted before responding.
func WithLatency(d time.Duration) Option {
	return func(p *MockProvider) {
		if d < 0 {
			d = 0
		}
		p.latency = d
	}
}

// WithClock swaps out the clock for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider implements a deterministic WhatsApp provider for tests and dry
// runs. It produces the same typed errors as CloudProvider.
type MockProvider struct {
	logger          zerolog.Logger
	defaultScenario Scenario
	latency         time.Duration
	now             func() time.Time
	calls           atomic.Int64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockProvider constructs a new mock WhatsApp provider.
func NewMockProvider(logger zerolog.Logger, opts ...Option) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		logger:          logger,
		defaultScenario: ScenarioSuccess,
		latency:         25 * time.Millisecond,
		now:             time.Now,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Calls returns how many sends reached the simulated network.
func (p *MockProvider) Calls() int64 {
	return p.calls.Load()
}

// Send simulates one template send.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*Response, error) {
	if err := checkPayload(payload); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "post", Err: ctx.Err()}
	default:
	}
	p.calls.Add(1)

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &TransportError{Op: "post", Err: ctx.Err()}
		case <-timer.C:
		}
	}

	scenario := p.defaultScenario
	if val, ok := payload.Meta["scenario"]; ok && strings.TrimSpace(val) != "" {
		scenario = Scenario(strings.ToLower(strings.TrimSpace(val)))
	}

	p.logger.Debug().
		Str("message_id", payload.MessageID).
		Str("scenario", string(scenario)).
		Msg("whatsapp mock send")

	switch scenario {
	case ScenarioSuccess:
		return p.successResponse(payload)
	case ScenarioProviderError:
		body := `{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190,"fbtrace_id":"mock-trace"}}`
		return nil, newProviderError(http.StatusUnauthorized, []byte(body))
	case ScenarioTransportError:
		return nil, &TransportError{Op: "post", Err: errors.New("whatsapp mock: connection refused")}
	case ScenarioProtocolError:
		return nil, &ProtocolError{StatusCode: http.StatusOK, Body: "", Err: errEmptyBody}
	default:
		return nil, fmt.Errorf("whatsapp mock unknown scenario: %s", scenario)
	}
}

func (p *MockProvider) successResponse(payload *Payload) (*Response, error) {
	result := SendResult{
		MessagingProduct: MessagingProduct,
		Contacts:         []Contact{{Input: payload.To, WaID: strings.TrimPrefix(payload.To, "+")}},
		Messages:         []MessageRef{{ID: p.generateID(), MessageStatus: "accepted"}},
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("whatsapp mock: marshal response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("whatsapp mock: decode response: %w", err)
	}
	return &Response{
		StatusCode: http.StatusOK,
		Body:       body,
		Fields:     fields,
		Result:     result,
		Timestamp:  p.now(),
	}, nil
}

func (p *MockProvider) generateID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("wamid.mock-%d", p.rnd.Int63())
}
