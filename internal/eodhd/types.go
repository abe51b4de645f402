// Package eodhd provides a client for the EODHD (End of Day Historical Data) API.
package eodhd

import (
	"fmt"
	"time"
)

// QueryOption represents an optional parameter for API queries.
type QueryOption func(*queryParams)

type queryParams struct {
	From  time.Time
	To    time.Time
	Limit int
	Topic string
}

// WithDateRange sets the date range for the query.
func WithDateRange(from, to time.Time) QueryOption {
	return func(p *queryParams) {
		p.From = from
		p.To = to
	}
}

// WithLimit sets the maximum number of results.
func WithLimit(limit int) QueryOption {
	return func(p *queryParams) {
		p.Limit = limit
	}
}

// WithTopic searches news by tag instead of symbol.
func WithTopic(topic string) QueryOption {
	return func(p *queryParams) {
		p.Topic = topic
	}
}

// APIError represents an error from the EODHD API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// HTTPStatus lets common.Classify map the status onto an error kind.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}
