package models

// PromptBundle is the bounded input for one strategy inference.
type PromptBundle struct {
	HoldingID       string
	Symbol          string
	System          string
	Prompt          string
	ArticleCount    int
	DroppedArticles int
}

// InferenceResponse is the raw model output plus the provider that produced it.
type InferenceResponse struct {
	Text     string
	Provider string
	Model    string
}

// Verdict is the validated shape an inference must parse into.
type Verdict struct {
	Action     Action  `json:"action" validate:"required,oneof=BUY SELL HOLD"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Rationale  string  `json:"rationale" validate:"required"`
}
