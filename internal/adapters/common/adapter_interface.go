package common

import (
	"context"

	"github.com/example/wa-template-sender/internal/models"
)

// Adapter validates a template request, hands it to a provider and returns a
// normalized ProviderResponse alongside error classification.
type Adapter interface {
	Send(ctx context.Context, req *models.TemplateRequest) (*ProviderResponse, error)
}
