package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"

	"github.com/ternarybob/tradepulse/internal/common"
)

// IsRateLimitError checks if an error is a provider rate limit error.
// Matches 429 status codes and RESOURCE_EXHAUSTED errors.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if statusOf(err) == 429 {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate_limit_error") ||
		strings.Contains(errStr, "quota")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s"]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the API-suggested retry delay from an error.
// Returns 0 if no delay is found in the error message.
//
// Example error message:
// "Error 429, Message: ... Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		if secs, convErr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); convErr == nil {
			return time.Duration(secs) * time.Second
		}
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

func statusOf(err error) int {
	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) {
		return claudeErr.StatusCode
	}
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code
	}
	return 0
}

// classifyProviderError maps SDK errors onto the shared error kinds.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch common.Classify(err) {
	case common.KindParse, common.KindValidation, common.KindRateLimited, common.KindProviderUnavailable:
		return err
	}

	if IsRateLimitError(err) {
		return &common.RateLimitedError{
			RetryAfter: ExtractRetryDelay(err),
			Err:        fmt.Errorf("%s: %w", provider, err),
		}
	}

	status := statusOf(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded), status == 408:
		return fmt.Errorf("%w: %s inference timed out: %v", common.ErrNetwork, provider, err)
	case status >= 500 || status == 529:
		return &common.UnavailableError{Status: status, Err: fmt.Errorf("%s: %w", provider, err)}
	case status >= 400:
		return fmt.Errorf("%w: %s rejected request (%d): %v", common.ErrValidation, provider, status, err)
	}

	if common.Classify(err) == common.KindNetwork {
		return fmt.Errorf("%w: %s: %v", common.ErrNetwork, provider, err)
	}
	return fmt.Errorf("%s inference failed: %w", provider, err)
}
