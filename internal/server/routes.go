package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (notifications and client requests)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	mux.HandleFunc("/ws/status", s.app.WSHandler.StatusHandler)
	mux.HandleFunc("/ws/broadcast", s.app.WSHandler.BroadcastHandler)

	// API routes - Portfolios
	mux.HandleFunc("/api/portfolios/", s.handlePortfolioRoutes)

	// API routes - Holdings
	mux.HandleFunc("/api/holdings/", s.handleHoldingRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handlePortfolioRoutes routes /api/portfolios/{id}/... requests
func (s *Server) handlePortfolioRoutes(w http.ResponseWriter, r *http.Request) {
	routes := []PathSuffixRouter{
		{Suffix: "/strategy/refresh", Handler: s.app.PortfolioHandler.RefreshStrategyHandler},
		{Suffix: "/prices/refresh", Handler: s.app.PortfolioHandler.RefreshPricesHandler},
		{Suffix: "/market-summary", Handler: s.app.PortfolioHandler.MarketSummaryHandler},
	}
	if RouteByPathSuffix(w, r, "/api/portfolios/", routes) {
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleHoldingRoutes routes /api/holdings/{id}/... requests
func (s *Server) handleHoldingRoutes(w http.ResponseWriter, r *http.Request) {
	routes := []PathSuffixRouter{
		{Suffix: "/keywords", Handler: s.app.HoldingHandler.KeywordsHandler},
		{Suffix: "/strategy", Handler: s.app.HoldingHandler.StrategyHandler},
		{Suffix: "/news-summary", Handler: s.app.HoldingHandler.NewsSummaryHandler},
	}
	if RouteByPathSuffix(w, r, "/api/holdings/", routes) {
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}
