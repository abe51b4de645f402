package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved runtime settings.
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("TradePulse", GetVersion())

	if logger == nil {
		return
	}

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("storage", config.Storage.Type).
		Str("market_tz", config.Market.Timezone).
		Str("session", config.Market.Open+"-"+config.Market.Close).
		Dur("price_interval", config.Prices.Interval).
		Dur("strategy_interval", config.Strategy.Interval).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Msg("TradePulse starting")
}
