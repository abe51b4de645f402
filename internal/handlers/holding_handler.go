package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/services/keywords"
	"github.com/ternarybob/tradepulse/internal/services/news"
)

const (
	holdingsPrefix     = "/api/holdings/"
	defaultHistorySize = 20
	maxHistorySize     = 200
	defaultSummaryDays = 7
	maxSummaryDays     = 90
)

// HoldingHandler serves per-holding keyword, strategy and news queries.
type HoldingHandler struct {
	store    interfaces.PortfolioStore
	keywords KeywordEditor
	logger   arbor.ILogger
}

// NewHoldingHandler creates a HoldingHandler
func NewHoldingHandler(store interfaces.PortfolioStore, keywords KeywordEditor, logger arbor.ILogger) *HoldingHandler {
	return &HoldingHandler{
		store:    store,
		keywords: keywords,
		logger:   logger,
	}
}

// KeywordsHandler routes /api/holdings/{id}/keywords by method.
func (h *HoldingHandler) KeywordsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.listKeywords(w, r)
	case "POST":
		h.addKeyword(w, r)
	case "DELETE":
		h.removeKeyword(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HoldingHandler) listKeywords(w http.ResponseWriter, r *http.Request) {
	holding, err := h.store.GetHolding(r.Context(), PathParam(r.URL.Path, holdingsPrefix))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	active, err := h.keywords.Keywords(r.Context(), holding)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"holding_id": holding.ID,
		"keywords":   active,
	})
}

func (h *HoldingHandler) addKeyword(w http.ResponseWriter, r *http.Request) {
	holdingID := PathParam(r.URL.Path, holdingsPrefix)

	var req keywords.AddKeywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	keyword, err := h.keywords.AddKeyword(r.Context(), holdingID, req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().
		Str("holding_id", holdingID).
		Str("keyword", keyword.Text).
		Int("priority", keyword.Priority).
		Msg("Custom keyword added")
	WriteJSON(w, http.StatusCreated, keyword)
}

func (h *HoldingHandler) removeKeyword(w http.ResponseWriter, r *http.Request) {
	holdingID := PathParam(r.URL.Path, holdingsPrefix)
	text := r.URL.Query().Get("keyword")

	if err := h.keywords.RemoveKeyword(r.Context(), holdingID, text); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "Keyword deactivated")
}

// StrategyHandler handles GET /api/holdings/{id}/strategy
func (h *HoldingHandler) StrategyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	holdingID := PathParam(r.URL.Path, holdingsPrefix)
	if _, err := h.store.GetHolding(r.Context(), holdingID); err != nil {
		WriteServiceError(w, err)
		return
	}

	current, err := h.store.GetCurrentDecision(r.Context(), holdingID)
	if err != nil {
		h.logger.Error().Str("holding_id", holdingID).Err(err).Msg("Failed to load current decision")
		WriteServiceError(w, err)
		return
	}
	history, err := h.store.ListDecisions(r.Context(), holdingID, time.Time{}, QueryInt(r, "limit", defaultHistorySize, maxHistorySize))
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"holding_id": holdingID,
		"current":    current,
		"history":    history,
	})
}

// NewsSummaryHandler handles GET /api/holdings/{id}/news-summary?days=7
func (h *HoldingHandler) NewsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	holdingID := PathParam(r.URL.Path, holdingsPrefix)
	if _, err := h.store.GetHolding(r.Context(), holdingID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Holding not found")
			return
		}
		WriteServiceError(w, err)
		return
	}

	days := QueryInt(r, "days", defaultSummaryDays, maxSummaryDays)
	since := time.Now().AddDate(0, 0, -days)
	articles, err := h.store.ListArticles(r.Context(), holdingID, since)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, news.Summarize(holdingID, days, articles))
}
