// Package matcher links live game events to venue market instruments. It
// runs a fixed ladder of strategies from most to least precise and accepts
// the first hit whose confidence clears the configured floor.
package matcher

import (
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// Strategy confidences. The ladder runs in this order and the first
// passing strategy wins; later strategies never override an earlier hit.
const (
	abbreviationConfidence = 0.90
	fullNameConfidence     = 0.85
	timeWindowConfidence   = 0.70
)

// Config tunes the matcher. Zero values fall back to the defaults below.
type Config struct {
	// MinConfidence is the acceptance floor. A candidate at exactly the
	// floor is accepted.
	MinConfidence float64
	// TimeWindow bounds the market end time distance from the game start
	// for the time-window strategy.
	TimeWindow time.Duration
	// MinKeywordMatches is the minimum count of distinct team keywords
	// that must appear in the market question for the time-window
	// strategy.
	MinKeywordMatches int
}

// DefaultConfig returns the standard matcher tuning.
func DefaultConfig() Config {
	return Config{
		MinConfidence:     0.70,
		TimeWindow:        4 * time.Hour,
		MinKeywordMatches: 2,
	}
}

// Matcher links events to markets. It is stateless and safe for
// concurrent use.
type Matcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Matcher. Zero config fields take their defaults.
func New(cfg Config, logger *slog.Logger) *Matcher {
	def := DefaultConfig()
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.TimeWindow == 0 {
		cfg.TimeWindow = def.TimeWindow
	}
	if cfg.MinKeywordMatches == 0 {
		cfg.MinKeywordMatches = def.MinKeywordMatches
	}
	return &Matcher{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "matcher")),
	}
}

// Match links one event against the catalog. Candidates are scanned in
// catalog order per strategy, so the earliest catalog entry wins ties
// within a strategy and a more precise strategy always beats a later one.
// The second return is false when no candidate clears the floor.
func (m *Matcher) Match(event domain.ExternalEvent, catalog []domain.MarketInstrument) (domain.MatchLink, bool) {
	if !event.HasCompetitors() {
		return domain.MatchLink{}, false
	}

	strategies := []struct {
		name       domain.MatchStrategy
		confidence float64
		fn         func(domain.ExternalEvent, domain.MarketInstrument) bool
	}{
		{domain.MatchStrategyAbbreviation, abbreviationConfidence, m.matchAbbreviation},
		{domain.MatchStrategyFullName, fullNameConfidence, m.matchFullName},
		{domain.MatchStrategyTimeWindow, timeWindowConfidence, m.matchTimeWindow},
	}

	for _, s := range strategies {
		if s.confidence < m.cfg.MinConfidence {
			continue
		}
		for _, inst := range catalog {
			if !inst.Active {
				continue
			}
			if s.fn(event, inst) {
				link := domain.MatchLink{
					EventID:     event.ID,
					ConditionID: inst.ConditionID,
					Strategy:    s.name,
					Confidence:  s.confidence,
					CreatedAt:   time.Now().UTC(),
				}
				m.logger.Info("event matched",
					slog.String("event_id", event.ID),
					slog.String("condition_id", inst.ConditionID),
					slog.String("strategy", string(s.name)),
					slog.Float64("confidence", s.confidence))
				return link, true
			}
		}
	}
	return domain.MatchLink{}, false
}

// MatchAll links every matchable event in events against the catalog,
// producing at most one link per event. Markets already claimed by an
// earlier event are not offered to later ones.
func (m *Matcher) MatchAll(events []domain.ExternalEvent, catalog []domain.MarketInstrument) []domain.MatchLink {
	claimed := make(map[string]bool, len(events))
	var links []domain.MatchLink
	for _, ev := range events {
		remaining := catalog[:0:0]
		for _, inst := range catalog {
			if !claimed[inst.ConditionID] {
				remaining = append(remaining, inst)
			}
		}
		if link, ok := m.Match(ev, remaining); ok {
			claimed[link.ConditionID] = true
			links = append(links, link)
		}
	}
	return links
}

// matchAbbreviation requires both team abbreviation codes to appear as
// standalone tokens in the market question.
func (m *Matcher) matchAbbreviation(event domain.ExternalEvent, inst domain.MarketInstrument) bool {
	if event.Home.Abbreviation == "" || event.Away.Abbreviation == "" {
		return false
	}
	tokens := tokenSet(inst.Question)
	return tokens[strings.ToLower(event.Home.Abbreviation)] &&
		tokens[strings.ToLower(event.Away.Abbreviation)]
}

// matchFullName requires both full team names to appear in the question.
func (m *Matcher) matchFullName(event domain.ExternalEvent, inst domain.MarketInstrument) bool {
	q := strings.ToLower(inst.Question)
	return strings.Contains(q, strings.ToLower(event.Home.Name)) &&
		strings.Contains(q, strings.ToLower(event.Away.Name))
}

// matchTimeWindow requires the market end time to fall within the window
// around the game start and enough distinct team keywords to appear in
// the question.
func (m *Matcher) matchTimeWindow(event domain.ExternalEvent, inst domain.MarketInstrument) bool {
	if inst.EndTime.IsZero() || event.StartTime.IsZero() {
		return false
	}
	gap := inst.EndTime.Sub(event.StartTime)
	if gap < 0 {
		gap = -gap
	}
	if gap > m.cfg.TimeWindow {
		return false
	}

	tokens := tokenSet(inst.Question)
	matched := 0
	for kw := range teamKeywords(event) {
		if tokens[kw] {
			matched++
		}
	}
	return matched >= m.cfg.MinKeywordMatches
}

// stopwords are name fragments too generic to count as identifying
// keywords.
var stopwords = map[string]bool{
	"the": true, "of": true, "at": true, "vs": true, "and": true,
	"fc": true, "sc": true, "city": true, "united": true,
	"state": true, "university": true,
}

// teamKeywords returns the distinct identifying words from both team
// names plus their abbreviations.
func teamKeywords(event domain.ExternalEvent) map[string]bool {
	out := make(map[string]bool)
	add := func(s string) {
		for _, w := range strings.Fields(strings.ToLower(s)) {
			w = strings.Trim(w, ".,()")
			if len(w) >= 3 && !stopwords[w] {
				out[w] = true
			}
		}
	}
	add(event.Home.Name)
	add(event.Away.Name)
	if a := strings.ToLower(event.Home.Abbreviation); len(a) >= 2 {
		out[a] = true
	}
	if a := strings.ToLower(event.Away.Abbreviation); len(a) >= 2 {
		out[a] = true
	}
	return out
}

// tokenSet lowercases a question and splits it into alphanumeric tokens.
// Any other rune is a separator, so unspaced forms like "LAL@BOS" or
// "LAL-BOS" still yield whole team codes.
func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}
