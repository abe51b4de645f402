package relevance

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
)

const (
	titleWeight = 0.6
	bodyWeight  = 0.4

	// polarity beyond this magnitude is directional
	polarityThreshold = 0.1
)

// RankResult is the ranked, thresholded article set handed to the engine.
type RankResult struct {
	Articles   []*models.NewsArticle
	Considered int
	Discarded  int
	// Incomplete carries crawler truncation or source failures forward.
	Incomplete bool
}

// Scorer computes keyword relevance with exponential recency decay.
type Scorer struct {
	config common.RelevanceConfig
	logger arbor.ILogger
	now    func() time.Time
}

// NewScorer creates a scorer with the configured threshold, top-k and half-life.
func NewScorer(config common.RelevanceConfig, logger arbor.ILogger) *Scorer {
	if config.HalfLife <= 0 {
		config.HalfLife = 24 * time.Hour
	}
	return &Scorer{config: config, logger: logger, now: time.Now}
}

// Score returns clamp(density × recency, 0, 1) for one article.
func (s *Scorer) Score(article *models.NewsArticle, keywords []*models.Keyword) float64 {
	return s.score(article, keywords, s.now())
}

func (s *Scorer) score(article *models.NewsArticle, keywords []*models.Keyword, now time.Time) float64 {
	if article == nil || len(keywords) == 0 {
		return 0
	}

	title := strings.ToLower(article.Title)
	body := strings.ToLower(article.Body)

	var weighted, maxWeight float64
	for _, k := range keywords {
		text := strings.ToLower(strings.TrimSpace(k.Text))
		if text == "" {
			continue
		}
		w := k.Weight()
		if w > maxWeight {
			maxWeight = w
		}

		var m float64
		if strings.Contains(title, text) {
			m += titleWeight
		}
		if strings.Contains(body, text) {
			m += bodyWeight
		}
		weighted += w * m
	}
	if maxWeight == 0 {
		return 0
	}

	density := math.Min(1, weighted/maxWeight)
	return clamp(density * s.recency(article.PublishedAt, now))
}

func (s *Scorer) recency(published, now time.Time) float64 {
	age := now.Sub(published)
	if age < 0 || published.IsZero() {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(s.config.HalfLife))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Rank scores, thresholds and orders the articles, keeping the top K. Ties go
// to the later publication, then the dedup key. Input articles are not
// modified.
func (s *Scorer) Rank(articles []*models.NewsArticle, keywords []*models.Keyword, incomplete bool) *RankResult {
	now := s.now()
	result := &RankResult{Considered: len(articles), Incomplete: incomplete}

	ranked := make([]*models.NewsArticle, 0, len(articles))
	for _, a := range articles {
		score := s.score(a, keywords, now)
		if score < s.config.Threshold {
			result.Discarded++
			continue
		}
		cp := *a
		cp.Relevance = score
		cp.Sentiment = Classify(&cp)
		ranked = append(ranked, &cp)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.DedupKey < b.DedupKey
	})

	if s.config.TopK > 0 && len(ranked) > s.config.TopK {
		result.Discarded += len(ranked) - s.config.TopK
		ranked = ranked[:s.config.TopK]
	}
	result.Articles = ranked

	s.logger.Debug().
		Int("considered", result.Considered).
		Int("kept", len(result.Articles)).
		Bool("incomplete", result.Incomplete).
		Msg("Ranked articles")

	return result
}

// Classify labels an article from the provider polarity when present,
// otherwise from a small financial lexicon.
func Classify(article *models.NewsArticle) models.Sentiment {
	if article.Polarity != nil {
		switch p := *article.Polarity; {
		case p > polarityThreshold:
			return models.SentimentPositive
		case p < -polarityThreshold:
			return models.SentimentNegative
		default:
			return models.SentimentNeutral
		}
	}

	text := strings.ToLower(article.Title + " " + article.Body)
	var pos, neg int
	for _, w := range positiveTerms {
		pos += strings.Count(text, w)
	}
	for _, w := range negativeTerms {
		neg += strings.Count(text, w)
	}
	switch {
	case pos > neg:
		return models.SentimentPositive
	case neg > pos:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

var positiveTerms = []string{
	"상승", "호조", "개선", "급등", "최대", "흑자", "성장", "수주", "돌파", "강세", "상향",
	"beat", "surge", "rally", "record", "upgrade", "growth", "profit", "gain",
}

var negativeTerms = []string{
	"하락", "부진", "악화", "급락", "적자", "감소", "리콜", "약세", "하향", "우려", "소송",
	"miss", "plunge", "slump", "downgrade", "loss", "decline", "lawsuit", "recall",
}
