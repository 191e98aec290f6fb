package funnel

import (
	"fmt"
	"testing"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

func optionsBlock(texts ...string) models.Block {
	b := models.Block{ID: "b1", Message: "Pick one:"}
	for i, text := range texts {
		b.Options = append(b.Options, models.Option{Text: text, NextBlockID: fmt.Sprintf("next_%d", i)})
	}
	return b
}

func TestNormalizeText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  Done  ", "done"},
		{"Just   Exploring", "just exploring"},
		{"YES!!!", "yes"},
		{"let's do it", "lets do it"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeText(c.in); got != c.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMatcherExactNormalized(t *testing.T) {
	m := NewMatcher(StrictnessExact)
	block := optionsBlock("done", "Just exploring")

	cases := []struct {
		input string
		want  string
	}{
		{" Done ", "done"},
		{"DONE", "done"},
		{"just   EXPLORING", "Just exploring"},
		{"just exploring!!", "Just exploring"},
	}
	for _, c := range cases {
		res := m.Match(c.input, block)
		if !res.Matched || res.Option.Text != c.want {
			t.Errorf("Match(%q): matched=%v option=%q, want %q", c.input, res.Matched, res.Option.Text, c.want)
		}
	}
}

func TestMatcherNumericSelection(t *testing.T) {
	m := NewMatcher(StrictnessExact)
	block := optionsBlock("Trading", "Investing", "Just exploring")

	for k := 1; k <= 3; k++ {
		res := m.Match(fmt.Sprintf("%d", k), block)
		if !res.Matched || res.Index != k-1 {
			t.Errorf("Match(%d): matched=%v index=%d, want index %d", k, res.Matched, res.Index, k-1)
		}
	}

	for _, input := range []string{"0", "4", "-1", "99", "+2", " +1 ", "-2"} {
		if res := m.Match(input, block); res.Matched {
			t.Errorf("Match(%q) should not match, got option %q", input, res.Option.Text)
		}
	}
}

func TestMatcherEmptyOptions(t *testing.T) {
	m := NewMatcher(StrictnessExact)
	block := models.Block{ID: "end", Message: "Bye."}
	if res := m.Match("1", block); res.Matched {
		t.Error("numeric input should never match an empty option list")
	}
	if res := m.Match("anything", block); res.Matched {
		t.Error("text input should never match an empty option list")
	}
}

func TestMatcherExactRejectsSubstrings(t *testing.T) {
	m := NewMatcher(StrictnessExact)
	block := optionsBlock("Day trading", "Swing trading")
	if res := m.Match("trading", block); res.Matched {
		t.Errorf("exact matcher should not do substring matching, matched %q", res.Option.Text)
	}
}

func TestMatcherLenientSubstrings(t *testing.T) {
	m := NewMatcher(StrictnessLenient)
	block := optionsBlock("Day trading", "Something else")

	// Input contained in option text.
	res := m.Match("day", block)
	if !res.Matched || res.Option.Text != "Day trading" {
		t.Errorf("lenient matcher should match substring input, got matched=%v option=%q", res.Matched, res.Option.Text)
	}

	// Option text contained in input.
	res = m.Match("I want day trading please", block)
	if !res.Matched || res.Option.Text != "Day trading" {
		t.Errorf("lenient matcher should match containing input, got matched=%v option=%q", res.Matched, res.Option.Text)
	}
}

func TestMatcherExactBeatsLenient(t *testing.T) {
	// Exact equality must win before substring containment is tried.
	m := NewMatcher(StrictnessLenient)
	block := optionsBlock("Trade", "Trade more")
	res := m.Match("trade more", block)
	if !res.Matched || res.Option.Text != "Trade more" {
		t.Errorf("exact match should win, got %q", res.Option.Text)
	}
}

func TestMatcherDefaultStrictness(t *testing.T) {
	m := NewMatcher("")
	if m.Strictness() != StrictnessExact {
		t.Errorf("default strictness should be exact, got %v", m.Strictness())
	}
}
