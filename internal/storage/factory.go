package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/storage/badger"
	"github.com/ternarybob/tradepulse/internal/storage/memory"
)

// NewPortfolioStore creates the store selected by [storage] type
func NewPortfolioStore(logger arbor.ILogger, config *common.Config) (interfaces.PortfolioStore, error) {
	switch config.Storage.Type {
	case "", "badger":
		return badger.NewStore(logger, &config.Storage.Badger)
	case "memory":
		logger.Warn().Msg("Using in-memory storage - state is lost on restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'badger' or 'memory')", config.Storage.Type)
	}
}
