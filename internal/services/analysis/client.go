package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/llm"
)

// FallbackConfidence is used when a verdict cannot be parsed.
const FallbackConfidence = 0.3

const systemPrompt = `You are an equity analyst for a retail investor's portfolio.
Given one holding, its recent price trend and ranked news, recommend BUY, SELL or HOLD.
Weigh the news by its relevance score. When there is no news, judge from the price trend alone.
Return JSON with "action", "confidence" (0 to 1) and a short "rationale".`

// Verdict is a validated inference result.
type Verdict struct {
	models.Verdict
	Provider string
	// Annotation is set when the verdict is a fallback for an unparseable reply.
	Annotation string
	Attempts   int
}

// Client turns ranked news and a price trend into a bounded prompt and a
// validated verdict.
type Client struct {
	inference interfaces.InferenceService
	retry     *common.RetryPolicy
	budget    int
	validate  *validator.Validate
	logger    arbor.ILogger
}

// NewClient creates an analysis client.
func NewClient(inference interfaces.InferenceService, config common.StrategyConfig, logger arbor.ILogger) *Client {
	return &Client{
		inference: inference,
		retry:     common.NewRetryPolicy(config.RetryAttempts, config.InitialBackoff, config.MaxBackoff),
		budget:    config.PromptBudget,
		validate:  validator.New(),
		logger:    logger,
	}
}

// BuildBundle renders the prompt. Articles are added in the given (score)
// order until the character budget is reached; the rest are counted as
// dropped. The holding header and trend are always included.
func (c *Client) BuildBundle(holding *models.Holding, articles []*models.NewsArticle, trend models.PriceTrend, current *models.StrategyDecision) *models.PromptBundle {
	var header strings.Builder
	fmt.Fprintf(&header, "Holding: %s (%s)\n", holding.Name, holding.Symbol)
	fmt.Fprintf(&header, "Position: %.4g shares at average cost %.2f, last price %.2f, unrealized return %.2f%%\n",
		holding.Quantity, holding.AverageCost, holding.LastPrice, holding.UnrealizedReturn()*100)

	if trend.Samples > 0 {
		fmt.Fprintf(&header, "Price trend: %.2f -> %.2f (%+.2f%%) over %d samples",
			trend.Reference, trend.Current, trend.ChangePct*100, trend.Samples)
		if trend.Stale {
			header.WriteString(", latest price is stale")
		}
		header.WriteString("\n")
	} else {
		header.WriteString("Price trend: unavailable\n")
	}

	if current != nil {
		fmt.Fprintf(&header, "Current recommendation: %s (confidence %.2f) from %s\n",
			current.Action, current.Confidence, current.CreatedAt.Format(time.RFC3339))
	}

	prompt := header.String()
	used := utf8.RuneCountInString(prompt)

	included := 0
	if len(articles) == 0 {
		prompt += "\nNo relevant news in the recency window. Decide from the price trend.\n"
	} else {
		var news strings.Builder
		news.WriteString("\nRanked news:\n")
		used += utf8.RuneCountInString("\nRanked news:\n")

		for i, a := range articles {
			block := renderArticle(i+1, a)
			size := utf8.RuneCountInString(block)
			if c.budget > 0 && used+size > c.budget {
				break
			}
			news.WriteString(block)
			used += size
			included++
		}
		if included == 0 {
			news.WriteString("(news omitted, prompt budget exhausted)\n")
		}
		prompt += news.String()
	}

	return &models.PromptBundle{
		HoldingID:       holding.ID,
		Symbol:          holding.Symbol,
		System:          systemPrompt,
		Prompt:          prompt,
		ArticleCount:    included,
		DroppedArticles: len(articles) - included,
	}
}

func renderArticle(n int, a *models.NewsArticle) string {
	body := strings.TrimSpace(a.Body)
	if utf8.RuneCountInString(body) > 400 {
		body = string([]rune(body)[:400]) + "..."
	}
	return fmt.Sprintf("%d. [relevance %.2f, %s, %s] %s\n   %s\n",
		n, a.Relevance, a.Sentiment, a.PublishedAt.Format("2006-01-02 15:04"), a.Title, body)
}

// Analyze runs inference with bounded retries for transport errors. An
// unparseable or out-of-schema reply is not retried: it resolves to HOLD at
// FallbackConfidence with an annotation. A transport failure after all
// attempts is returned to the caller.
func (c *Client) Analyze(ctx context.Context, bundle *models.PromptBundle) (*Verdict, error) {
	var resp *models.InferenceResponse
	attempts, err := c.retry.Do(ctx, c.logger, "inference "+bundle.HoldingID, func(ctx context.Context) error {
		r, err := c.inference.Analyze(ctx, bundle)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inference for %s failed after %d attempts: %w", bundle.HoldingID, attempts, err)
	}

	verdict, parseErr := c.parse(resp.Text)
	if parseErr != nil {
		c.logger.Warn().
			Str("holding_id", bundle.HoldingID).
			Str("provider", resp.Provider).
			Err(parseErr).
			Msg("Unparseable verdict, falling back to HOLD")

		return &Verdict{
			Verdict: models.Verdict{
				Action:     models.ActionHold,
				Confidence: FallbackConfidence,
				Rationale:  "Model reply could not be interpreted; holding position.",
			},
			Provider:   resp.Provider,
			Annotation: parseErr.Error(),
			Attempts:   attempts,
		}, nil
	}

	return &Verdict{Verdict: *verdict, Provider: resp.Provider, Attempts: attempts}, nil
}

func (c *Client) parse(text string) (*models.Verdict, error) {
	raw := llm.ExtractJSON(text)
	if raw == "" {
		return nil, common.NewParseError(nil, "empty verdict")
	}

	var verdict models.Verdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, common.NewParseError(err, "verdict is not valid JSON")
	}
	verdict.Action = models.Action(strings.ToUpper(strings.TrimSpace(string(verdict.Action))))
	verdict.Rationale = strings.TrimSpace(verdict.Rationale)

	if err := c.validate.Struct(verdict); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, common.NewParseError(nil, "verdict field %s failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return nil, common.NewParseError(err, "verdict failed validation")
	}
	return &verdict, nil
}
