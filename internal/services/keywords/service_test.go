package keywords

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *models.Holding) {
	t.Helper()
	store := memory.NewStore()
	holding := &models.Holding{ID: "h1", PortfolioID: "p1", Symbol: "KRX:005930", Name: "삼성전자"}
	require.NoError(t, store.SaveHolding(context.Background(), holding))
	return NewService(store, arbor.NewLogger()), store, holding
}

func texts(keywords []*models.Keyword) []string {
	result := make([]string, len(keywords))
	for i, k := range keywords {
		result[i] = k.Text
	}
	return result
}

func TestBaseKeywordsDerivesSectorTerms(t *testing.T) {
	keywords := BaseKeywords(&models.Holding{ID: "h1", Symbol: "KRX:005930", Name: "삼성전자"})

	assert.Equal(t, []string{"삼성전자", "005930", "실적", "매출"}, texts(keywords))
	assert.Equal(t, 5, keywords[0].Priority)
	assert.Equal(t, models.KeywordOriginBase, keywords[1].Origin)
	assert.Equal(t, models.KeywordOriginDerived, keywords[2].Origin)
}

func TestBaseKeywordsEnglishSector(t *testing.T) {
	keywords := BaseKeywords(&models.Holding{ID: "h1", Symbol: "NASDAQ:MRNA", Name: "Moderna Pharma"})
	assert.Contains(t, texts(keywords), "신약")
	assert.Contains(t, texts(keywords), "MRNA")
}

func TestKeywordsSeedsOnce(t *testing.T) {
	svc, store, holding := newTestService(t)
	ctx := context.Background()

	first, err := svc.Keywords(ctx, holding)
	require.NoError(t, err)
	assert.Len(t, first, 4)

	second, err := svc.Keywords(ctx, holding)
	require.NoError(t, err)
	assert.Len(t, second, 4)

	stored, err := store.GetKeywords(ctx, holding.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestRemovedBaseKeywordStaysInactive(t *testing.T) {
	svc, _, holding := newTestService(t)
	ctx := context.Background()

	_, err := svc.Keywords(ctx, holding)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveKeyword(ctx, holding.ID, "매출"))

	active, err := svc.Keywords(ctx, holding)
	require.NoError(t, err)
	assert.NotContains(t, texts(active), "매출")
}

func TestAddKeyword(t *testing.T) {
	svc, _, holding := newTestService(t)
	ctx := context.Background()

	keyword, err := svc.AddKeyword(ctx, holding.ID, AddKeywordRequest{Keyword: " 파운드리 ", Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, "파운드리", keyword.Text)
	assert.Equal(t, models.KeywordOriginCustom, keyword.Origin)

	active, err := svc.Keywords(ctx, holding)
	require.NoError(t, err)
	assert.Contains(t, texts(active), "파운드리")
}

func TestAddKeywordReactivates(t *testing.T) {
	svc, _, holding := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddKeyword(ctx, holding.ID, AddKeywordRequest{Keyword: "HBM", Priority: 2})
	require.NoError(t, err)
	require.NoError(t, svc.RemoveKeyword(ctx, holding.ID, "hbm"))

	keyword, err := svc.AddKeyword(ctx, holding.ID, AddKeywordRequest{Keyword: "HBM", Priority: 4})
	require.NoError(t, err)
	assert.True(t, keyword.Active)
	assert.Equal(t, 4, keyword.Priority)
	assert.Equal(t, "HBM", keyword.Text)
}

func TestAddKeywordValidation(t *testing.T) {
	svc, _, holding := newTestService(t)
	ctx := context.Background()

	for _, req := range []AddKeywordRequest{
		{Keyword: "", Priority: 3},
		{Keyword: "x", Priority: 0},
		{Keyword: "x", Priority: 6},
	} {
		_, err := svc.AddKeyword(ctx, holding.ID, req)
		assert.ErrorIs(t, err, common.ErrValidation, "%+v", req)
	}

	_, err := svc.AddKeyword(ctx, "missing", AddKeywordRequest{Keyword: "x", Priority: 3})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRemoveUnknownKeyword(t *testing.T) {
	svc, _, holding := newTestService(t)
	assert.ErrorIs(t, svc.RemoveKeyword(context.Background(), holding.ID, "nope"), common.ErrNotFound)
	assert.ErrorIs(t, svc.RemoveKeyword(context.Background(), holding.ID, " "), common.ErrValidation)
}
