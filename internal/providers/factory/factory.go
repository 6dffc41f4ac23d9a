package factory

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/wa-template-sender/internal/config"
	waprovider "github.com/example/wa-template-sender/internal/providers/whatsapp"
)

// WhatsApp constructs the configured WhatsApp provider. Supports the Cloud API
// and mock backends.
func WhatsApp(cfg *config.Config, logger zerolog.Logger) (waprovider.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("factory: config is required")
	}
	backend := normalize(cfg.WhatsApp.Provider, config.ProviderCloud)
	switch backend {
	case config.ProviderCloud:
		timeout := time.Duration(cfg.Timeouts.ProviderTimeoutSeconds) * time.Second
		provider, err := waprovider.NewCloudProvider(cfg.WhatsApp, logger, waprovider.WithCloudTimeout(timeout))
		if err != nil {
			return nil, fmt.Errorf("factory: cloud whatsapp provider init: %w", err)
		}
		logger.Info().
			Str("backend", backend).
			Str("endpoint", provider.Endpoint()).
			Msg("whatsapp provider initialised")
		return provider, nil
	case config.ProviderMock:
		provider := waprovider.NewMockProvider(logger)
		logger.Info().
			Str("backend", backend).
			Msg("whatsapp provider initialised")
		return provider, nil
	default:
		return nil, fmt.Errorf("factory: unsupported whatsapp provider backend %q", cfg.WhatsApp.Provider)
	}
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
