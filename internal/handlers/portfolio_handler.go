package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
)

// PortfolioHandler serves the operational triggers for a portfolio.
type PortfolioHandler struct {
	cycles CycleRunner
	market MarketStatusReader
	logger arbor.ILogger
}

// NewPortfolioHandler creates a PortfolioHandler
func NewPortfolioHandler(cycles CycleRunner, market MarketStatusReader, logger arbor.ILogger) *PortfolioHandler {
	return &PortfolioHandler{
		cycles: cycles,
		market: market,
		logger: logger,
	}
}

const portfoliosPrefix = "/api/portfolios/"

// RefreshStrategyHandler handles POST /api/portfolios/{id}/strategy/refresh
func (h *PortfolioHandler) RefreshStrategyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	portfolioID := PathParam(r.URL.Path, portfoliosPrefix)
	if err := h.cycles.TriggerStrategyCycle(r.Context(), portfolioID); err != nil {
		h.logger.Warn().Str("portfolio_id", portfolioID).Err(err).Msg("Strategy refresh rejected")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("portfolio_id", portfolioID).Msg("Strategy refresh started")
	WriteStarted(w, "Strategy cycle started for "+portfolioID)
}

// RefreshPricesHandler handles POST /api/portfolios/{id}/prices/refresh
func (h *PortfolioHandler) RefreshPricesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	portfolioID := PathParam(r.URL.Path, portfoliosPrefix)
	summary, err := h.cycles.RunPriceCycle(r.Context(), portfolioID)
	if err != nil {
		h.logger.Warn().Str("portfolio_id", portfolioID).Err(err).Msg("Price refresh failed")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}

// MarketSummaryHandler handles GET /api/portfolios/{id}/market-summary
func (h *PortfolioHandler) MarketSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	portfolioID := PathParam(r.URL.Path, portfoliosPrefix)
	response := map[string]interface{}{
		"portfolio_id": portfolioID,
		"status":       h.market.Status(portfolioID),
	}
	if summary, ok := h.market.MarketSummary(portfolioID); ok {
		response["summary"] = summary
	}
	WriteJSON(w, http.StatusOK, response)
}
