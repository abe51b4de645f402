package memory

import (
	"testing"

	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interfaces.PortfolioStore {
		return NewStore()
	})
}
