package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
)

func newTestFactory(claudeKey string, opts ...FactoryOption) *ProviderFactory {
	return NewProviderFactory(
		&common.GeminiConfig{Model: "gemini-3-flash-preview"},
		&common.ClaudeConfig{APIKey: claudeKey, Model: "claude-haiku-4-5", MaxTokens: 512},
		&common.LLMConfig{DefaultProvider: common.LLMProviderGemini},
		arbor.NewLogger(),
		opts...,
	)
}

func TestDetectProviderAndNormalizeModel(t *testing.T) {
	f := newTestFactory("")

	assert.Equal(t, ProviderClaude, f.DetectProvider("claude-haiku-4-5"))
	assert.Equal(t, ProviderClaude, f.DetectProvider("anthropic/claude-haiku-4-5"))
	assert.Equal(t, ProviderGemini, f.DetectProvider("gemini/gemini-3-flash-preview"))
	assert.Equal(t, ProviderGemini, f.DetectProvider(""))
	assert.Equal(t, ProviderGemini, f.DetectProvider("mystery"))

	assert.Equal(t, "claude-haiku-4-5", f.NormalizeModel("claude/claude-haiku-4-5"))
	assert.Equal(t, "gemini-3-flash-preview", f.NormalizeModel("gemini-3-flash-preview"))
}

func TestMissingKeyIsValidationError(t *testing.T) {
	f := newTestFactory("")
	_, err := f.GenerateContent(context.Background(), &ContentRequest{
		Model:    "claude-haiku-4-5",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.False(t, f.Available("claude-haiku-4-5"))

	_, err = f.GenerateContent(context.Background(), &ContentRequest{Model: "claude-haiku-4-5"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestConvertVerdictSchema(t *testing.T) {
	schema, err := convertToGenaiSchema(VerdictSchema)
	require.NoError(t, err)

	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, []string{"action", "confidence", "rationale"}, schema.Required)
	require.Contains(t, schema.Properties, "action")
	assert.Equal(t, []string{"BUY", "SELL", "HOLD"}, schema.Properties["action"].Enum)
	require.NotNil(t, schema.Properties["confidence"].Maximum)
	assert.Equal(t, 1.0, *schema.Properties["confidence"].Maximum)

	_, err = convertToGenaiSchema(map[string]interface{}{"type": "tuple"})
	assert.Error(t, err)
}

func claudeServer(t *testing.T, handler http.HandlerFunc) *ProviderFactory {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return newTestFactory("test-key", WithClaudeOptions(option.WithBaseURL(server.URL)))
}

func geminiServer(t *testing.T, handler http.HandlerFunc) *ProviderFactory {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewProviderFactory(
		&common.GeminiConfig{APIKey: "test-key", Model: "gemini-3-flash-preview"},
		&common.ClaudeConfig{Model: "claude-haiku-4-5"},
		&common.LLMConfig{DefaultProvider: common.LLMProviderGemini},
		arbor.NewLogger(),
		WithGeminiHTTPOptions(genai.HTTPOptions{BaseURL: server.URL + "/"}),
	)
}

func TestGeminiGenerateContent(t *testing.T) {
	var path string
	f := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"action\":\"HOLD\",\"confidence\":0.5,\"rationale\":\"flat\"}"}]},"finishReason":"STOP"}]}`))
	})

	resp, err := f.GenerateContent(context.Background(), &ContentRequest{
		Model:        "gemini-3-flash-preview",
		OutputSchema: VerdictSchema,
		Messages:     []Message{{Role: "user", Content: "analyse"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, resp.Provider)
	assert.Contains(t, resp.Text, `"HOLD"`)
	assert.Contains(t, path, "gemini-3-flash-preview:generateContent")
}

func TestGeminiOverloadedIsRetryable(t *testing.T) {
	f := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`))
	})

	_, err := f.GenerateContent(context.Background(), &ContentRequest{
		Model:    "gemini-3-flash-preview",
		Messages: []Message{{Role: "user", Content: "analyse"}},
	})
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
	assert.True(t, common.IsRetryable(err))
}

func TestClaudeGenerateContent(t *testing.T) {
	var system string
	f := claudeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if blocks, ok := body["system"].([]interface{}); ok && len(blocks) > 0 {
			system, _ = blocks[0].(map[string]interface{})["text"].(string)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5",
			"content":[{"type":"text","text":"{\"action\":\"BUY\",\"confidence\":0.8,\"rationale\":\"ok\"}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`))
	})

	resp, err := f.GenerateContent(context.Background(), &ContentRequest{
		Model:             "claude-haiku-4-5",
		SystemInstruction: "You are an analyst.",
		OutputSchema:      VerdictSchema,
		Messages:          []Message{{Role: "user", Content: "analyse"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, resp.Provider)
	assert.Contains(t, resp.Text, `"BUY"`)
	assert.Contains(t, system, "You are an analyst.")
	assert.Contains(t, system, `"confidence"`)
}

func TestClaudeErrorsAreClassified(t *testing.T) {
	status := http.StatusTooManyRequests
	calls := 0
	f := claudeServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"nope"}}`))
	})

	request := &ContentRequest{Model: "claude-haiku-4-5", Messages: []Message{{Role: "user", Content: "x"}}}

	_, err := f.GenerateContent(context.Background(), request)
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, 3*time.Second, common.RetryAfter(err))
	assert.Equal(t, 1, calls, "factory must not retry")

	status = http.StatusServiceUnavailable
	_, err = f.GenerateContent(context.Background(), request)
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)

	status = http.StatusBadRequest
	_, err = f.GenerateContent(context.Background(), request)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestClassifyProviderError(t *testing.T) {
	geminiQuota := errors.New("Error 429, Message: quota exceeded. Please retry in 12.5s., Status: RESOURCE_EXHAUSTED")
	err := classifyProviderError("gemini", geminiQuota)
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, 12500*time.Millisecond, common.RetryAfter(err))

	err = classifyProviderError("gemini", fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, common.ErrNetwork)

	err = classifyProviderError("gemini", genai.APIError{Code: 503, Message: "overloaded"})
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
	assert.True(t, common.IsRetryable(err))

	assert.ErrorIs(t, classifyProviderError("gemini", context.Canceled), context.Canceled)
	assert.NoError(t, classifyProviderError("gemini", nil))

	err = classifyProviderError("gemini", errors.New("strange"))
	assert.Equal(t, common.KindUnknown, common.Classify(err))
}

func TestExtractRetryDelay(t *testing.T) {
	assert.Equal(t, 45*time.Second, ExtractRetryDelay(errors.New("Please retry in 45s.")))
	assert.Equal(t, 30*time.Second, ExtractRetryDelay(errors.New(`"retryDelay": "30s"`)))
	assert.Zero(t, ExtractRetryDelay(errors.New("no hint")))
	assert.Zero(t, ExtractRetryDelay(nil))
}

type fakeGenerator struct {
	request *ContentRequest
	resp    *ContentResponse
	err     error
}

func (g *fakeGenerator) GenerateContent(ctx context.Context, request *ContentRequest) (*ContentResponse, error) {
	g.request = request
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected deadline")
	}
	return g.resp, g.err
}

func TestInferenceServiceAnalyze(t *testing.T) {
	gen := &fakeGenerator{resp: &ContentResponse{Text: "{}", Provider: ProviderGemini, Model: "gemini-3-flash-preview"}}
	svc := NewInferenceService(gen, "gemini-3-flash-preview", time.Minute, arbor.NewLogger())

	resp, err := svc.Analyze(context.Background(), &models.PromptBundle{HoldingID: "h1", System: "sys", Prompt: "prompt"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "sys", gen.request.SystemInstruction)
	assert.Equal(t, "prompt", gen.request.Messages[0].Content)
	assert.NotNil(t, gen.request.OutputSchema)

	gen.err = common.ErrProviderUnavailable
	_, err = svc.Analyze(context.Background(), &models.PromptBundle{})
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, `{"a":1}`, ExtractJSON(`{"a":1}`))
	assert.Equal(t, "no json", ExtractJSON("no json"))
}
