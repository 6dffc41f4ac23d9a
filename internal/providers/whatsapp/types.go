package whatsapp

import (
	"context"
	"encoding/json"
	"time"
)

// Fixed values of the Cloud API template message body.
const (
	MessagingProduct    = "whatsapp"
	MessageTypeTemplate = "template"
)

// Payload encapsulates the template message to be sent via a provider.
type Payload struct {
	MessageID    string
	To           string
	TemplateName string
	LanguageCode string
	Meta         map[string]string
}

// OutboundMessage is the JSON body POSTed to the messages endpoint.
type OutboundMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         Template `json:"template"`
}

// Template references a template registered with the provider out-of-band.
type Template struct {
	Name     string   `json:"name"`
	Language Language `json:"language"`
}

// Language selects the template translation.
type Language struct {
	Code string `json:"code"`
}

// NewOutboundMessage builds the wire body for a template payload.
func NewOutboundMessage(p *Payload) OutboundMessage {
	return OutboundMessage{
		MessagingProduct: MessagingProduct,
		To:               p.To,
		Type:             MessageTypeTemplate,
		Template: Template{
			Name:     p.TemplateName,
			Language: Language{Code: p.LanguageCode},
		},
	}
}

// Contact echoes the recipient as resolved by the provider.
type Contact struct {
	Input string `json:"input"`
	WaID  string `json:"wa_id"`
}

// MessageRef is the provider assigned identifier of an accepted message.
type MessageRef struct {
	ID            string `json:"id"`
	MessageStatus string `json:"message_status,omitempty"`
}

// SendResult is the typed view of a successful messages response.
type SendResult struct {
	MessagingProduct string       `json:"messaging_product"`
	Contacts         []Contact    `json:"contacts"`
	Messages         []MessageRef `json:"messages"`
}

// Response captures a successful provider response. Body holds the raw bytes
// and Fields the full decoded object so nothing the provider sent is lost.
type Response struct {
	StatusCode int
	Body       json.RawMessage
	Fields     map[string]any
	Result     SendResult
	Timestamp  time.Time
}

// MessageID returns the first provider message id, if any.
func (r *Response) MessageID() string {
	if r == nil || len(r.Result.Messages) == 0 {
		return ""
	}
	return r.Result.Messages[0].ID
}

// Provider represents an outbound WhatsApp provider. Implementations perform
// exactly one delivery attempt per Send call.
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*Response, error)
}
