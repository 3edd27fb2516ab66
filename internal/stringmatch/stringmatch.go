// Package stringmatch implements the direct matching layer: exact and near-miss string
// comparison with tiered confidence.
package stringmatch

import (
	"strings"
	"unicode"
)

// Tier names the reason two strings matched (or did not).
type Tier string

const (
	TierExact      Tier = "exact"
	TierCase       Tier = "case_insensitive"
	TierWhitespace Tier = "whitespace"
	TierNormalized Tier = "normalized"
	TierEdit1      Tier = "edit_distance_1"
	TierEdit2      Tier = "edit_distance_2"
	TierNone       Tier = "none"
)

var tierConfidence = map[Tier]float64{
	TierExact:      1.0,
	TierCase:       0.95,
	TierWhitespace: 0.9,
	TierNormalized: 0.9,
	TierEdit1:      0.8,
	TierEdit2:      0.7,
	TierNone:       0.0,
}

// Confidence returns the fixed confidence for t.
func (t Tier) Confidence() float64 {
	return tierConfidence[t]
}

// Result is the outcome of one comparison.
type Result struct {
	Matched    bool
	Confidence float64
	Tier       Tier
	// Distance is the edit distance between the normalized forms.
	Distance int
}

// Matcher compares requirement and capability names. The zero value is ready to use.
type Matcher struct{}

func New() *Matcher {
	return &Matcher{}
}

// Match classifies how requirement and capability relate. Exactly one tier applies.
func (m *Matcher) Match(requirement, capability string) Result {
	if requirement == capability {
		return result(TierExact, 0)
	}

	// Folding never maps a space to anything else, so this is a case-only difference.
	if strings.EqualFold(requirement, capability) {
		return result(TierCase, 0)
	}

	wsReq := collapseSpace(requirement)
	wsCap := collapseSpace(capability)
	if wsReq == wsCap {
		return result(TierWhitespace, 0)
	}

	normReq := strings.ToLower(wsReq)
	normCap := strings.ToLower(wsCap)
	d := Distance(normReq, normCap)
	switch d {
	case 0:
		return result(TierNormalized, 0)
	case 1:
		return result(TierEdit1, 1)
	case 2:
		return result(TierEdit2, 2)
	default:
		return Result{Tier: TierNone, Distance: d}
	}
}

func result(t Tier, distance int) Result {
	return Result{Matched: true, Confidence: t.Confidence(), Tier: t, Distance: distance}
}

// Normalize trims, collapses internal whitespace and lower-cases s.
func Normalize(s string) string {
	return strings.ToLower(collapseSpace(s))
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Distance is the Levenshtein distance between a and b, counted in runes, with unit
// cost for insertion, deletion and substitution.
func Distance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
