// send-template delivers one WhatsApp template message through the Cloud API
// and exits with a status code describing the outcome:
//
//	0  message accepted by the provider
//	1  configuration or request validation failure
//	2  transport failure, the request never reached the provider
//	3  provider rejected the request
//	4  provider accepted but the response could not be read
//
// Configuration is read from the environment (and an optional .env file);
// see internal/config for the recognised keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/wa-template-sender/internal/adapters/common"
	waadapter "github.com/example/wa-template-sender/internal/adapters/whatsapp"
	"github.com/example/wa-template-sender/internal/config"
	"github.com/example/wa-template-sender/internal/kafka/producer"
	kafkapublisher "github.com/example/wa-template-sender/internal/kafka/publisher"
	"github.com/example/wa-template-sender/internal/logger"
	"github.com/example/wa-template-sender/internal/models"
	"github.com/example/wa-template-sender/internal/providers/factory"
	waprovider "github.com/example/wa-template-sender/internal/providers/whatsapp"
	"github.com/example/wa-template-sender/internal/util"
)

const (
	exitOK        = 0
	exitConfig    = 1
	exitTransport = 2
	exitProvider  = 3
	exitProtocol  = 4
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
		return exitConfig
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
		return exitConfig
	}
	log := baseLogger.With().Str("service", "send-template").Logger()

	provider, err := factory.WhatsApp(cfg, log.With().Str("component", "whatsapp-provider").Logger())
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise whatsapp provider")
		return exitConfig
	}

	adapter, err := waadapter.NewAdapter(provider, log.With().Str("component", "whatsapp-adapter").Logger())
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise whatsapp adapter")
		return exitConfig
	}

	s := &sender{
		adapter: adapter,
		logger:  log,
		now:     time.Now,
		out:     os.Stdout,
	}

	if cfg.Kafka.StatusPublishingEnabled() {
		prod, err := producer.New(cfg.Kafka.Brokers, cfg.Kafka.ClientID, log.With().Str("component", "kafka").Logger())
		if err != nil {
			log.Error().Err(err).Msg("kafka unavailable, status events disabled")
		} else {
			defer func() {
				if err := prod.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close kafka producer")
				}
			}()
			s.publisher = kafkapublisher.NewStatusPublisher(prod, cfg.Kafka.StatusTopic, log.With().Str("component", "status-publisher").Logger())
		}
	}

	req := &models.TemplateRequest{
		MessageID:    util.NewMessageID(),
		To:           cfg.Message.Recipient,
		TemplateName: cfg.Message.TemplateName,
		LanguageCode: cfg.Message.LanguageCode,
		CreatedAt:    time.Now().UTC(),
	}
	return s.run(ctx, req)
}

type statusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

type sender struct {
	adapter   common.Adapter
	publisher statusPublisher
	logger    zerolog.Logger
	now       func() time.Time
	out       io.Writer
}

// run performs the single send, prints the report and returns the exit code.
func (s *sender) run(ctx context.Context, req *models.TemplateRequest) int {
	log := s.logger.With().Str("message_id", req.MessageID).Logger()

	resp, err := s.adapter.Send(ctx, req)
	kind := waprovider.ClassifyFailure(err)
	code := exitCode(err, kind)

	s.report(resp, err, kind)

	if resp != nil {
		s.publish(ctx, log, buildStatusEvent(req, resp, err, s.now()))
	}

	if err != nil {
		log.Error().Err(err).Str("failure_kind", string(kind)).Int("exit_code", code).Msg("template send failed")
	} else {
		log.Info().Str("provider_id", resp.ProviderID()).Msg("template send completed")
	}
	return code
}

func (s *sender) report(resp *common.ProviderResponse, err error, kind waprovider.FailureKind) {
	status := 0
	raw := ""
	if resp != nil {
		if resp.Code != nil {
			status = *resp.Code
		}
		raw = resp.Raw
	}

	switch {
	case err == nil:
		fmt.Fprintf(s.out, "message sent: provider_id=%s http_status=%d\n", resp.ProviderID(), status)
		fmt.Fprintf(s.out, "response: %s\n", raw)
	case kind == waprovider.FailureTransport:
		fmt.Fprintf(s.out, "request failed before reaching provider: %v\n", err)
	case kind == waprovider.FailureProvider:
		fmt.Fprintf(s.out, "provider rejected the request: http_status=%d\n", status)
		fmt.Fprintf(s.out, "response: %s\n", raw)
	case kind == waprovider.FailureProtocol:
		fmt.Fprintf(s.out, "provider accepted but response was unreadable: http_status=%d\n", status)
		fmt.Fprintf(s.out, "response: %s\n", raw)
	default:
		fmt.Fprintf(s.out, "invalid request: %v\n", err)
	}
}

func (s *sender) publish(ctx context.Context, log zerolog.Logger, event models.StatusEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishStatus(ctx, event); err != nil {
		log.Error().Err(err).Msg("failed to publish status event")
	}
}

func buildStatusEvent(req *models.TemplateRequest, resp *common.ProviderResponse, err error, now time.Time) models.StatusEvent {
	event := models.StatusEvent{
		MessageID:         req.MessageID,
		Channel:           models.ChannelWhatsApp,
		EventType:         models.StatusEventSent,
		ProviderMessageID: resp.ProviderID(),
		TraceID:           req.TraceID,
		Timestamp:         now.UTC(),
	}
	if resp.Code != nil {
		event.HTTPStatus = *resp.Code
	}
	if err != nil {
		event.EventType = models.StatusEventFailed
		if resp.Status == common.StatusRejected {
			event.EventType = models.StatusEventRejected
		}
		event.FailureKind = resp.FailureKind
		event.Error = err.Error()
	}
	return event
}

func exitCode(err error, kind waprovider.FailureKind) int {
	if err == nil {
		return exitOK
	}
	switch kind {
	case waprovider.FailureTransport:
		return exitTransport
	case waprovider.FailureProvider:
		return exitProvider
	case waprovider.FailureProtocol:
		return exitProtocol
	}
	if errors.Is(err, common.ErrPermanent) {
		return exitConfig
	}
	return exitTransport
}

func fail(stage string, err error) {
	initLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
	initLog.Error().Err(err).Str("stage", stage).Msg("send-template init failed")
}
