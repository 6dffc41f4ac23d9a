package models

import "time"

// ChannelWhatsApp is the only channel this service delivers on.
const ChannelWhatsApp = "whatsapp"

// TemplateRequest is the domain representation of one template message send.
// It is constructed fresh for every send and discarded once the provider
// responds.
type TemplateRequest struct {
	MessageID    string            `json:"message_id"`
	To           string            `json:"to"`
	TemplateName string            `json:"template_name"`
	LanguageCode string            `json:"language_code"`
	TraceID      string            `json:"trace_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Meta         map[string]string `json:"meta,omitempty"`
}
