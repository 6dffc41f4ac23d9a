package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/wa-template-sender/internal/adapters/common"
	"github.com/example/wa-template-sender/internal/models"
	waprovider "github.com/example/wa-template-sender/internal/providers/whatsapp"
	"github.com/example/wa-template-sender/internal/util"
)

const (
	metaMaxEntries  = 20
	metaMaxKeyLen   = 64
	metaMaxValueLen = 256
)

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithRawBodyLimit overrides the maximum number of characters retained from the provider body.
func WithRawBodyLimit(limit int) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxRawChars = limit
		}
	}
}

// Adapter implements common.Adapter for WhatsApp template messages.
type Adapter struct {
	logger      zerolog.Logger
	provider    waprovider.Provider
	maxRawChars int
}

var _ common.Adapter = (*Adapter)(nil)

// NewAdapter constructs a WhatsApp adapter.
func NewAdapter(provider waprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("whatsapp adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:      logger,
		provider:    provider,
		maxRawChars: common.DefaultRawBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Send validates the request, delegates one send to the provider and
// normalizes the outcome. Validation failures return a nil response.
func (a *Adapter) Send(ctx context.Context, req *models.TemplateRequest) (*common.ProviderResponse, error) {
	if req == nil {
		return nil, common.WrapPermanent(errors.New("whatsapp adapter: request is nil"))
	}

	payload, err := buildPayload(req)
	if err != nil {
		return nil, common.WrapPermanent(err)
	}

	raw, err := a.provider.Send(ctx, payload)
	if err != nil {
		kind := waprovider.ClassifyFailure(err)
		resp := a.buildErrorResponse(err, kind)
		a.logger.Warn().
			Str("message_id", payload.MessageID).
			Str("channel", models.ChannelWhatsApp).
			Str("failure_kind", string(kind)).
			Str("provider_status", resp.Status).
			Err(err).
			Msg("whatsapp adapter send failed")
		return resp, wrapWhatsAppError(err)
	}

	resp := a.buildSuccessResponse(raw)
	a.logger.Info().
		Str("message_id", payload.MessageID).
		Str("channel", models.ChannelWhatsApp).
		Str("provider_id", resp.ProviderID()).
		Msg("whatsapp adapter send succeeded")
	return resp, nil
}

func buildPayload(req *models.TemplateRequest) (*waprovider.Payload, error) {
	if _, err := util.ParseUUIDv4(req.MessageID); err != nil {
		return nil, fmt.Errorf("whatsapp adapter: message_id: %w", err)
	}
	to, err := util.NormalizeRecipient(req.To)
	if err != nil {
		return nil, fmt.Errorf("whatsapp adapter: to: %w", err)
	}
	name, err := util.ValidateTemplateName(req.TemplateName)
	if err != nil {
		return nil, fmt.Errorf("whatsapp adapter: template_name: %w", err)
	}
	lang, err := util.ValidateLanguageCode(req.LanguageCode)
	if err != nil {
		return nil, fmt.Errorf("whatsapp adapter: language_code: %w", err)
	}
	meta, err := util.ValidateMetadata(req.Meta, metaMaxEntries, metaMaxKeyLen, metaMaxValueLen)
	if err != nil {
		return nil, fmt.Errorf("whatsapp adapter: metadata: %w", err)
	}
	if traceID := strings.TrimSpace(req.TraceID); traceID != "" {
		if meta == nil {
			meta = map[string]string{}
		}
		meta["trace_id"] = traceID
	}

	return &waprovider.Payload{
		MessageID:    strings.TrimSpace(req.MessageID),
		To:           to,
		TemplateName: name,
		LanguageCode: lang,
		Meta:         meta,
	}, nil
}

func (a *Adapter) buildSuccessResponse(raw *waprovider.Response) *common.ProviderResponse {
	meta := make(map[string]string)
	var codePtr *int
	var body string
	if raw != nil {
		if id := raw.MessageID(); id != "" {
			meta["provider_id"] = id
		}
		if len(raw.Result.Messages) > 0 && raw.Result.Messages[0].MessageStatus != "" {
			meta["provider_status"] = raw.Result.Messages[0].MessageStatus
		}
		if len(raw.Result.Contacts) > 0 && raw.Result.Contacts[0].WaID != "" {
			meta["wa_id"] = raw.Result.Contacts[0].WaID
		}
		if !raw.Timestamp.IsZero() {
			meta["provider_timestamp"] = raw.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		codePtr = optionalInt(raw.StatusCode)
		body = string(raw.Body)
	}
	if len(meta) == 0 {
		meta = nil
	}

	return &common.ProviderResponse{
		Status:  common.StatusSent,
		Message: "sent",
		Code:    codePtr,
		Raw:     common.TruncateRaw(body, a.maxRawChars),
		Meta:    meta,
	}
}

func (a *Adapter) buildErrorResponse(err error, kind waprovider.FailureKind) *common.ProviderResponse {
	resp := &common.ProviderResponse{
		Status:      common.StatusFailed,
		FailureKind: string(kind),
		Message:     err.Error(),
	}

	var providerErr *waprovider.ProviderError
	var protocolErr *waprovider.ProtocolError
	switch {
	case errors.As(err, &providerErr):
		resp.Status = common.StatusRejected
		resp.Code = optionalInt(providerErr.StatusCode)
		resp.Raw = common.TruncateRaw(providerErr.Body, a.maxRawChars)
		meta := map[string]string{}
		if providerErr.Code != 0 {
			meta["provider_code"] = strconv.Itoa(providerErr.Code)
		}
		if providerErr.Subcode != 0 {
			meta["provider_subcode"] = strconv.Itoa(providerErr.Subcode)
		}
		if providerErr.Type != "" {
			meta["provider_error_type"] = providerErr.Type
		}
		if providerErr.TraceID != "" {
			meta["provider_trace_id"] = providerErr.TraceID
		}
		if len(meta) > 0 {
			resp.Meta = meta
		}
	case errors.As(err, &protocolErr):
		resp.Code = optionalInt(protocolErr.StatusCode)
		resp.Raw = common.TruncateRaw(protocolErr.Body, a.maxRawChars)
	}
	return resp
}

// wrapWhatsAppError marks the failure as permanent or transient. A protocol
// error is permanent: the provider may already have accepted the message.
func wrapWhatsAppError(err error) error {
	var providerErr *waprovider.ProviderError
	switch waprovider.ClassifyFailure(err) {
	case waprovider.FailureTransport:
		return common.WrapTransient(err)
	case waprovider.FailureProvider:
		if errors.As(err, &providerErr) && providerErr.Retryable() {
			return common.WrapTransient(err)
		}
		return common.WrapPermanent(err)
	case waprovider.FailureProtocol:
		return common.WrapPermanent(err)
	}
	if errors.Is(err, waprovider.ErrInvalidPayload) {
		return common.WrapPermanent(err)
	}
	return common.WrapTransient(err)
}

func optionalInt(code int) *int {
	if code == 0 {
		return nil
	}
	c := code
	return &c
}
