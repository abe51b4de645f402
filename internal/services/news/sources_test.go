package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/eodhd"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

const searchPage = `<html><body>
<div class="item">
  <a class="title" href="/news/1">삼성전자, 3분기 실적 개선</a>
  <div class="desc"><p>메모리 <b>가격</b> 상승</p></div>
  <span class="press">한국경제</span>
  <span class="info">A1면</span><span class="info">3시간 전</span>
</div>
<div class="item">
  <a class="title" href="https://other.example/2">HBM 수출 확대</a>
  <div class="desc">수출 호조</div>
  <span class="info">2026.10.13.</span>
</div>
<div class="item"><a class="title" href="/empty"></a></div>
</body></html>`

func testSourceConfig(url string) common.NewsSourceConfig {
	return common.NewsSourceConfig{
		ID:           "portal",
		Enabled:      true,
		SearchURL:    url + "/search?q=%s",
		ItemSel:      ".item",
		TitleSel:     ".title",
		BodySel:      ".desc",
		DateSel:      ".info",
		PublisherSel: ".press",
	}
}

func TestHTMLSourceExtractsArticles(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		assert.Equal(t, "tradepulse-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(searchPage))
	}))
	defer server.Close()

	source := NewHTMLSource(testSourceConfig(server.URL), server.Client(), "tradepulse-test", arbor.NewLogger())
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	source.now = func() time.Time { return now }

	articles, err := source.Search(context.Background(), "삼성 전자")
	require.NoError(t, err)
	assert.Equal(t, "삼성 전자", query)

	require.Len(t, articles, 2)
	assert.Equal(t, "portal", articles[0].SourceID)
	assert.Equal(t, "삼성전자, 3분기 실적 개선", articles[0].Title)
	assert.Equal(t, server.URL+"/news/1", articles[0].URL)
	assert.Contains(t, articles[0].Body, "가격")
	assert.Equal(t, "한국경제", articles[0].Publisher)
	assert.Equal(t, now.Add(-3*time.Hour), articles[0].PublishedAt)

	assert.Equal(t, "https://other.example/2", articles[1].URL)
	assert.Equal(t, 2026, articles[1].PublishedAt.Year())
	assert.Equal(t, 13, articles[1].PublishedAt.Day())
}

func TestHTMLSourceErrorsAreClassified(t *testing.T) {
	status := http.StatusTooManyRequests
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "4")
		}
		w.WriteHeader(status)
	}))
	defer server.Close()

	source := NewHTMLSource(testSourceConfig(server.URL), server.Client(), "", arbor.NewLogger())

	_, err := source.Search(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, 4*time.Second, common.RetryAfter(err))

	status = http.StatusBadGateway
	_, err = source.Search(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
	assert.True(t, common.IsRetryable(err))

	status = http.StatusNotFound
	_, err = source.Search(context.Background(), "x")
	assert.Error(t, err)
	assert.False(t, common.IsRetryable(err))
}

func TestCollectRetriesServerErrorFromPortal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(searchPage))
	}))
	defer server.Close()

	source := NewHTMLSource(testSourceConfig(server.URL), server.Client(), "", arbor.NewLogger())
	crawler := NewCrawler([]interfaces.NewsSource{source}, testConfig(), arbor.NewLogger())

	result, err := crawler.Collect(context.Background(), []*models.Keyword{kw("삼성전자")})
	require.NoError(t, err)
	assert.Empty(t, result.Partial)
	assert.NotEmpty(t, result.Articles)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTMLSourceNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	source := NewHTMLSource(testSourceConfig(url), nil, "", arbor.NewLogger())
	_, err := source.Search(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrNetwork)
}

func TestParsePublishedAt(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
		ok    bool
	}{
		{"5분 전", now.Add(-5 * time.Minute), true},
		{"3시간 전", now.Add(-3 * time.Hour), true},
		{"2일 전", now.Add(-48 * time.Hour), true},
		{"1주 전", now.Add(-7 * 24 * time.Hour), true},
		{"2 hours ago", now.Add(-2 * time.Hour), true},
		{"10 mins ago", now.Add(-10 * time.Minute), true},
		{"2026.10.13.", time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), true},
		{"2026-10-12", time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), true},
		{"A1면", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParsePublishedAt(tt.input, now)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
			}
		})
	}
}

func TestEODHDSourceQueriesSymbolOrTopic(t *testing.T) {
	var params []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params = append(params, "s="+q.Get("s")+"&t="+q.Get("t"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"date":"2026-10-14T01:00:00+00:00","title":"Samsung beats","content":"memory","link":"https://x/1","sentiment":{"polarity":0.6}}]`))
	}))
	defer server.Close()

	client := eodhd.NewClient("demo", eodhd.WithBaseURL(server.URL), eodhd.WithHTTPClient(server.Client()))
	source := NewEODHDSource(client, 10, 72*time.Hour)

	articles, err := source.Search(context.Background(), "005930")
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, EODHDSourceID, articles[0].SourceID)
	require.NotNil(t, articles[0].Polarity)
	assert.InDelta(t, 0.6, *articles[0].Polarity, 1e-9)
	assert.False(t, articles[0].PublishedAt.IsZero())

	_, err = source.Search(context.Background(), "semiconductor")
	require.NoError(t, err)

	require.Len(t, params, 2)
	assert.Equal(t, "s=005930.KO&t=", params[0])
	assert.Equal(t, "s=&t=semiconductor", params[1])
}
