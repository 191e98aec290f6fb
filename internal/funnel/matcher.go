package funnel

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// Strictness selects how leniently free-text replies are resolved to options.
// A deployment picks exactly one mode; the two are never merged, since they
// accept different inputs when one option text is a substring of another.
type Strictness string

const (
	// StrictnessExact accepts only an exact normalized-text match or a
	// 1-based numeric selection. This is the default for the tenant-isolated
	// monitoring engine.
	StrictnessExact Strictness = "exact"
	// StrictnessLenient additionally accepts substring containment in either
	// direction before falling back to numeric selection.
	StrictnessLenient Strictness = "lenient"
)

// MatchResult is the outcome of resolving user input against a block.
type MatchResult struct {
	Matched bool
	Option  models.Option
	// Index is the zero-based position of the matched option.
	Index int
}

var (
	nonWordRegex    = regexp.MustCompile(`[^a-z0-9_\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// NormalizeText lowercases the input, strips non-word characters, and
// collapses internal whitespace to single spaces.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWordRegex.ReplaceAllString(s, "")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Matcher resolves free-text or numeric user input to one of a block's
// options.
type Matcher struct {
	strictness Strictness
}

// NewMatcher creates a Matcher with the given strictness. An empty strictness
// defaults to exact matching.
func NewMatcher(strictness Strictness) *Matcher {
	if strictness == "" {
		strictness = StrictnessExact
	}
	return &Matcher{strictness: strictness}
}

// Strictness returns the configured matching mode.
func (m *Matcher) Strictness() Strictness {
	return m.strictness
}

// Match resolves userText against the block's options. Resolution order:
// exact normalized equality, then (lenient mode only) substring containment
// in either direction, then 1-based numeric selection on the raw trimmed
// input. First match wins.
func (m *Matcher) Match(userText string, block models.Block) MatchResult {
	normalized := NormalizeText(userText)

	if normalized != "" {
		for i, opt := range block.Options {
			if NormalizeText(opt.Text) == normalized {
				slog.Debug("Matcher exact match", "block", block.ID, "option", opt.Text)
				return MatchResult{Matched: true, Option: opt, Index: i}
			}
		}

		if m.strictness == StrictnessLenient {
			for i, opt := range block.Options {
				optNorm := NormalizeText(opt.Text)
				if optNorm == "" {
					continue
				}
				if strings.Contains(optNorm, normalized) || strings.Contains(normalized, optNorm) {
					slog.Debug("Matcher substring match", "block", block.ID, "option", opt.Text)
					return MatchResult{Matched: true, Option: opt, Index: i}
				}
			}
		}
	}

	// Numeric fallback: raw trimmed input as a 1-based option index.
	// ParseUint keeps signed forms like "+2" or "-2" from selecting an option.
	if n, err := strconv.ParseUint(strings.TrimSpace(userText), 10, 32); err == nil {
		if n >= 1 && int(n) <= len(block.Options) {
			slog.Debug("Matcher numeric match", "block", block.ID, "selection", n)
			return MatchResult{Matched: true, Option: block.Options[n-1], Index: int(n - 1)}
		}
	}

	slog.Debug("Matcher no match", "block", block.ID, "input_length", len(userText))
	return MatchResult{Matched: false}
}
