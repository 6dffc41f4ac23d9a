package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/example/wa-template-sender/internal/util"
)

// Provider backends understood by the factory.
const (
	ProviderCloud = "cloud"
	ProviderMock  = "mock"
)

// Config captures all runtime configuration for the template sender.
type Config struct {
	App      AppConfig
	WhatsApp WhatsAppConfig
	Message  MessageConfig
	Kafka    KafkaConfig
	Timeouts TimeoutConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// WhatsAppConfig stores the Cloud API endpoint and credential.
type WhatsAppConfig struct {
	Provider      string
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
}

// MessageConfig describes the single template message to send.
type MessageConfig struct {
	Recipient    string
	TemplateName string
	LanguageCode string
}

// KafkaConfig is optional; an empty broker list disables status publishing.
type KafkaConfig struct {
	Brokers     []string
	StatusTopic string
	ClientID    string
}

// TimeoutConfig contains timeout thresholds for outbound providers.
type TimeoutConfig struct {
	ProviderTimeoutSeconds int
}

// StatusPublishingEnabled reports whether a broker list was supplied.
func (k KafkaConfig) StatusPublishingEnabled() bool {
	return len(k.Brokers) > 0
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.WhatsApp.Provider = strings.ToLower(ldr.getString("WHATSAPP_PROVIDER", ProviderCloud, false))
	switch cfg.WhatsApp.Provider {
	case ProviderCloud, ProviderMock:
	default:
		ldr.addError(fmt.Sprintf("WHATSAPP_PROVIDER must be one of %s, %s", ProviderCloud, ProviderMock))
	}
	requireCloud := cfg.WhatsApp.Provider == ProviderCloud
	cfg.WhatsApp.AccessToken = ldr.getString("WHATSAPP_ACCESS_TOKEN", "", requireCloud)
	cfg.WhatsApp.PhoneNumberID = ldr.getString("WHATSAPP_PHONE_NUMBER_ID", "", requireCloud)
	cfg.WhatsApp.BaseURL = ldr.getString("WHATSAPP_API_BASE_URL", "https://graph.facebook.com", false)
	if _, err := util.ValidateHTTPURL(cfg.WhatsApp.BaseURL); err != nil {
		ldr.addError(fmt.Sprintf("WHATSAPP_API_BASE_URL: %v", err))
	}
	cfg.WhatsApp.APIVersion = ldr.getString("WHATSAPP_API_VERSION", "v22.0", false)

	cfg.Message.Recipient = ldr.getString("WHATSAPP_RECIPIENT", "", true)
	cfg.Message.TemplateName = ldr.getString("WHATSAPP_TEMPLATE_NAME", "hello_world", false)
	cfg.Message.LanguageCode = ldr.getString("WHATSAPP_TEMPLATE_LANGUAGE", "en_US", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.StatusTopic = ldr.getString("KAFKA_STATUS_TOPIC", "whatsapp.status", false)
	cfg.Kafka.ClientID = ldr.getString("KAFKA_CLIENT_ID", "wa-template-sender", false)

	cfg.Timeouts.ProviderTimeoutSeconds = ldr.getInt("WHATSAPP_TIMEOUT_SECONDS", 30, false)
	if cfg.Timeouts.ProviderTimeoutSeconds <= 0 {
		ldr.addError("WHATSAPP_TIMEOUT_SECONDS must be positive")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
