package llm

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

// VerdictSchema constrains the model output to a strategy verdict.
var VerdictSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"action": map[string]interface{}{
			"type":        "string",
			"enum":        []string{string(models.ActionBuy), string(models.ActionSell), string(models.ActionHold)},
			"description": "Recommended position action",
		},
		"confidence": map[string]interface{}{
			"type":        "number",
			"minimum":     0.0,
			"maximum":     1.0,
			"description": "Confidence in the action between 0 and 1",
		},
		"rationale": map[string]interface{}{
			"type":        "string",
			"description": "Short explanation referencing the news and price trend",
		},
	},
	"required": []string{"action", "confidence", "rationale"},
}

// InferenceService adapts a Generator to the strategy pipeline.
type InferenceService struct {
	generator Generator
	model     string
	timeout   time.Duration
	logger    arbor.ILogger
}

var _ interfaces.InferenceService = (*InferenceService)(nil)

// NewInferenceService creates an inference service. An empty model uses the
// factory's default provider.
func NewInferenceService(generator Generator, model string, timeout time.Duration, logger arbor.ILogger) *InferenceService {
	return &InferenceService{
		generator: generator,
		model:     model,
		timeout:   timeout,
		logger:    logger,
	}
}

// Analyze sends one prompt bundle and returns the raw model text.
func (s *InferenceService) Analyze(ctx context.Context, bundle *models.PromptBundle) (*models.InferenceResponse, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.generator.GenerateContent(ctx, &ContentRequest{
		Messages:          []Message{{Role: "user", Content: bundle.Prompt}},
		Model:             s.model,
		SystemInstruction: bundle.System,
		OutputSchema:      VerdictSchema,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("holding_id", bundle.HoldingID).
		Str("provider", string(resp.Provider)).
		Str("model", resp.Model).
		Dur("elapsed", time.Since(start)).
		Msg("Inference complete")

	return &models.InferenceResponse{
		Text:     resp.Text,
		Provider: string(resp.Provider),
		Model:    resp.Model,
	}, nil
}

// ExtractJSON returns the JSON object in text, dropping markdown code fences
// and any prose around the outermost braces.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```JSON")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
