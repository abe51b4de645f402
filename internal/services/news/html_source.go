package news

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
)

const maxBodyBytes = 4 << 20

// HTMLSource scrapes a portal news search page with CSS selectors.
type HTMLSource struct {
	config     common.NewsSourceConfig
	httpClient *http.Client
	userAgent  string
	logger     arbor.ILogger
	now        func() time.Time
}

// NewHTMLSource creates a scraping source from its selector configuration.
func NewHTMLSource(config common.NewsSourceConfig, httpClient *http.Client, userAgent string, logger arbor.ILogger) *HTMLSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTMLSource{
		config:     config,
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *HTMLSource) ID() string {
	return s.config.ID
}

func (s *HTMLSource) Search(ctx context.Context, keyword string) ([]models.RawArticle, error) {
	searchURL := strings.Replace(s.config.SearchURL, "%s", url.QueryEscape(keyword), 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, common.NewValidationError("invalid search url for %s: %v", s.config.ID, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", common.ErrNetwork, s.config.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, &common.RateLimitedError{
			RetryAfter: time.Duration(retryAfter) * time.Second,
			Err:        fmt.Errorf("%s returned 429", s.config.ID),
		}
	case resp.StatusCode >= 500:
		return nil, &common.UnavailableError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s returned %d", s.config.ID, resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s returned %d", s.config.ID, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, common.NewParseError(err, "failed to parse %s results", s.config.ID)
	}

	return s.extract(doc, searchURL), nil
}

func (s *HTMLSource) extract(doc *goquery.Document, pageURL string) []models.RawArticle {
	converter := md.NewConverter(baseDomain(pageURL), true, nil)
	now := s.now()

	var articles []models.RawArticle
	doc.Find(s.config.ItemSel).Each(func(i int, item *goquery.Selection) {
		titleSel := item.Find(s.config.TitleSel).First()
		title := strings.TrimSpace(titleSel.Text())
		if title == "" {
			return
		}

		link, _ := titleSel.Attr("href")
		article := models.RawArticle{
			SourceID: s.config.ID,
			Title:    title,
			URL:      resolveURL(pageURL, link),
		}

		if s.config.BodySel != "" {
			if html, err := item.Find(s.config.BodySel).First().Html(); err == nil && html != "" {
				if body, err := converter.ConvertString(html); err == nil {
					article.Body = strings.TrimSpace(body)
				} else {
					article.Body = strings.TrimSpace(item.Find(s.config.BodySel).First().Text())
				}
			}
		}
		if s.config.PublisherSel != "" {
			article.Publisher = strings.TrimSpace(item.Find(s.config.PublisherSel).First().Text())
		}
		if s.config.DateSel != "" {
			item.Find(s.config.DateSel).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
				if t, ok := ParsePublishedAt(sel.Text(), now); ok {
					article.PublishedAt = t
					return false
				}
				return true
			})
		}

		articles = append(articles, article)
	})

	s.logger.Debug().
		Str("source", s.config.ID).
		Int("articles", len(articles)).
		Msg("Extracted search results")

	return articles
}

func baseDomain(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func resolveURL(pageURL, link string) string {
	if link == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}

var relativeTime = regexp.MustCompile(`(\d+)\s*(초|분|시간|일|주|seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?)\s*(전|ago)`)

var absoluteLayouts = []string{
	"2006.01.02.",
	"2006.01.02. 15:04",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ParsePublishedAt understands the relative ("3시간 전", "2 hours ago") and
// dotted absolute dates used by portal search pages.
func ParsePublishedAt(text string, now time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	if m := relativeTime.FindStringSubmatch(strings.ToLower(text)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		var unit time.Duration
		switch u := m[2]; {
		case u == "초" || strings.HasPrefix(u, "sec"):
			unit = time.Second
		case u == "분" || strings.HasPrefix(u, "min"):
			unit = time.Minute
		case u == "시간" || strings.HasPrefix(u, "h"):
			unit = time.Hour
		case u == "일" || strings.HasPrefix(u, "day"):
			unit = 24 * time.Hour
		case u == "주" || strings.HasPrefix(u, "week"):
			unit = 7 * 24 * time.Hour
		}
		return now.Add(-time.Duration(n) * unit), true
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
