package news

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

// SourceFailure records a (source, keyword) pair that exhausted its retries.
type SourceFailure struct {
	SourceID string `json:"source_id"`
	Keyword  string `json:"keyword"`
	Err      error  `json:"-"`
}

// CollectResult is the deduplicated article set for one Collect call.
type CollectResult struct {
	Articles  []*models.NewsArticle // newest first, each dedup key once
	Truncated []string              // keywords that hit the per-keyword cap
	Partial   []SourceFailure
}

// Incomplete reports whether the result is missing articles.
func (r *CollectResult) Incomplete() bool {
	return len(r.Truncated) > 0 || len(r.Partial) > 0
}

type windowEntry struct {
	article  *models.NewsArticle
	keywords map[string]struct{}
}

// Crawler collects keyword news from every configured source. It keeps a
// window store of articles seen within the recency window so repeated crawls
// of the same content yield each dedup key once.
type Crawler struct {
	sources  []interfaces.NewsSource
	limiters map[string]*rate.Limiter
	retry    *common.RetryPolicy
	config   common.NewsConfig
	logger   arbor.ILogger
	now      func() time.Time

	mu          sync.Mutex
	window      map[string]*windowEntry
	lastCrawled map[string]time.Time
}

// NewCrawler creates a crawler over the given sources.
func NewCrawler(sources []interfaces.NewsSource, config common.NewsConfig, logger arbor.ILogger) *Crawler {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Every(config.RateLimit)
	}

	limiters := make(map[string]*rate.Limiter, len(sources))
	for _, source := range sources {
		limiters[source.ID()] = rate.NewLimiter(limit, 1)
	}

	return &Crawler{
		sources:     sources,
		limiters:    limiters,
		retry:       common.NewRetryPolicy(config.RetryAttempts, config.InitialBackoff, config.MaxBackoff),
		config:      config,
		logger:      logger,
		now:         time.Now,
		window:      make(map[string]*windowEntry),
		lastCrawled: make(map[string]time.Time),
	}
}

// Sources returns the ids of the configured sources.
func (c *Crawler) Sources() []string {
	ids := make([]string, len(c.sources))
	for i, s := range c.sources {
		ids[i] = s.ID()
	}
	return ids
}

func normalizeKeyword(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Collect runs every stale keyword against every source concurrently, merges
// the results into the window store and returns the articles for keywords.
// Source failures never fail the collection; they are reported in Partial.
func (c *Crawler) Collect(ctx context.Context, keywords []*models.Keyword) (*CollectResult, error) {
	result := &CollectResult{}
	if len(keywords) == 0 {
		return result, nil
	}

	now := c.now()
	c.prune(now)

	var stale []string
	seen := map[string]bool{}
	ordered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		key := normalizeKeyword(k.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		ordered = append(ordered, key)
		if c.isFresh(key, now) {
			continue
		}
		stale = append(stale, key)
	}

	if len(stale) > 0 && len(c.sources) > 0 {
		result.Partial = c.crawl(ctx, stale)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	c.assemble(result, ordered, now)

	c.logger.Debug().
		Int("keywords", len(ordered)).
		Int("crawled", len(stale)).
		Int("articles", len(result.Articles)).
		Int("partial", len(result.Partial)).
		Int("truncated", len(result.Truncated)).
		Msg("News collection complete")

	return result, nil
}

func (c *Crawler) isFresh(keyword string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastCrawled[keyword]
	return ok && c.config.Interval > 0 && now.Sub(last) < c.config.Interval
}

func (c *Crawler) crawl(ctx context.Context, keywords []string) []SourceFailure {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []SourceFailure
		failed   = map[string]bool{}
	)

	for _, keyword := range keywords {
		for _, source := range c.sources {
			common.SafeGoGroup(&wg, c.logger, "news:"+source.ID(), func() {
				articles, err := c.search(ctx, source, keyword)
				if err != nil {
					mu.Lock()
					failures = append(failures, SourceFailure{SourceID: source.ID(), Keyword: keyword, Err: err})
					failed[keyword] = true
					mu.Unlock()
					return
				}
				c.merge(keyword, source.ID(), articles)
			})
		}
	}
	wg.Wait()

	now := c.now()
	c.mu.Lock()
	for _, keyword := range keywords {
		if !failed[keyword] {
			c.lastCrawled[keyword] = now
		}
	}
	c.mu.Unlock()

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].SourceID != failures[j].SourceID {
			return failures[i].SourceID < failures[j].SourceID
		}
		return failures[i].Keyword < failures[j].Keyword
	})
	return failures
}

func (c *Crawler) search(ctx context.Context, source interfaces.NewsSource, keyword string) ([]models.RawArticle, error) {
	limiter := c.limiters[source.ID()]
	operation := fmt.Sprintf("news %s %q", source.ID(), keyword)

	var articles []models.RawArticle
	attempts, err := c.retry.Do(ctx, c.logger, operation, func(ctx context.Context) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx := ctx
		if c.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
			defer cancel()
		}

		found, err := source.Search(callCtx, keyword)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w: request timeout: %v", common.ErrNetwork, err)
			}
			return err
		}
		articles = found
		return nil
	})
	if err != nil {
		c.logger.Warn().
			Str("source", source.ID()).
			Str("keyword", keyword).
			Int("attempts", attempts).
			Str("kind", string(common.Classify(err))).
			Err(err).
			Msg("News source failed, continuing with remaining sources")
		return nil, err
	}
	return articles, nil
}

// merge adds raw articles to the window store. The first source to report
// a dedup key owns the stored article.
func (c *Crawler) merge(keyword, sourceID string, raw []models.RawArticle) {
	now := c.now()
	cutoff := c.cutoff(now)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range raw {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		published := r.PublishedAt
		if published.IsZero() {
			published = now
		}
		if !cutoff.IsZero() && published.Before(cutoff) {
			continue
		}

		if r.SourceID == "" {
			r.SourceID = sourceID
		}
		key := models.DedupKey(r.Title, r.SourceID)
		entry, ok := c.window[key]
		if !ok {
			entry = &windowEntry{
				article: &models.NewsArticle{
					DedupKey:    key,
					SourceID:    r.SourceID,
					Title:       strings.TrimSpace(r.Title),
					URL:         r.URL,
					Body:        strings.TrimSpace(r.Body),
					Publisher:   r.Publisher,
					Keyword:     keyword,
					PublishedAt: published,
					CollectedAt: now,
					Polarity:    r.Polarity,
				},
				keywords: map[string]struct{}{},
			}
			c.window[key] = entry
		}
		entry.keywords[keyword] = struct{}{}
	}
}

func (c *Crawler) cutoff(now time.Time) time.Time {
	if c.config.RecencyWindow <= 0 {
		return time.Time{}
	}
	return now.Add(-c.config.RecencyWindow)
}

func (c *Crawler) prune(now time.Time) {
	cutoff := c.cutoff(now)
	if cutoff.IsZero() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.window {
		if entry.article.PublishedAt.Before(cutoff) {
			delete(c.window, key)
		}
	}
	for keyword, last := range c.lastCrawled {
		if last.Before(cutoff) {
			delete(c.lastCrawled, keyword)
		}
	}
}

// assemble builds the per-keyword capped, cross-keyword deduplicated view.
func (c *Crawler) assemble(result *CollectResult, keywords []string, now time.Time) {
	cutoff := c.cutoff(now)

	c.mu.Lock()
	byKeyword := make(map[string][]*models.NewsArticle, len(keywords))
	for _, entry := range c.window {
		if !cutoff.IsZero() && entry.article.PublishedAt.Before(cutoff) {
			continue
		}
		for _, keyword := range keywords {
			if _, ok := entry.keywords[keyword]; ok {
				byKeyword[keyword] = append(byKeyword[keyword], entry.article)
			}
		}
	}
	c.mu.Unlock()

	included := map[string]bool{}
	for _, keyword := range keywords {
		articles := byKeyword[keyword]
		sortNewestFirst(articles)

		if limit := c.config.MaxArticlesPerKeyword; limit > 0 && len(articles) > limit {
			articles = articles[:limit]
			result.Truncated = append(result.Truncated, keyword)
		}

		for _, a := range articles {
			if included[a.DedupKey] {
				continue
			}
			included[a.DedupKey] = true
			cp := *a
			result.Articles = append(result.Articles, &cp)
		}
	}

	sortNewestFirst(result.Articles)
}

func sortNewestFirst(articles []*models.NewsArticle) {
	sort.SliceStable(articles, func(i, j int) bool {
		if !articles[i].PublishedAt.Equal(articles[j].PublishedAt) {
			return articles[i].PublishedAt.After(articles[j].PublishedAt)
		}
		return articles[i].DedupKey < articles[j].DedupKey
	})
}
