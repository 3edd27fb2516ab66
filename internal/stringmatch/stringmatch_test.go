package stringmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch_Tiers(t *testing.T) {
	m := New()

	cases := []struct {
		name       string
		req, cap   string
		tier       Tier
		confidence float64
		matched    bool
	}{
		{"identical", "CNC Machining", "CNC Machining", TierExact, 1.0, true},
		{"case only", "CNC Machining", "cnc machining", TierCase, 0.95, true},
		{"case only with padding", "  Sous Vide", "  sous vide", TierCase, 0.95, true},
		{"whitespace only", "CNC  Machining ", "CNC Machining", TierWhitespace, 0.9, true},
		{"case and whitespace", " cnc   MACHINING", "CNC Machining", TierNormalized, 0.9, true},
		{"one edit", "milling", "miling", TierEdit1, 0.8, true},
		{"deletion", "welding", "weldin", TierEdit1, 0.8, true},
		{"substitution", "laser cut", "laser cat", TierEdit1, 0.8, true},
		{"distance two", "roasting", "rostin", TierEdit2, 0.7, true},
		{"far apart", "milling", "baking", TierNone, 0.0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := m.Match(tc.req, tc.cap)
			assert.Equal(t, tc.tier, got.Tier)
			assert.Equal(t, tc.matched, got.Matched)
			assert.InDelta(t, tc.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestMatch_IdentityAlwaysExact(t *testing.T) {
	m := New()
	for _, s := range []string{"", " ", "Bake", "  Deep   Fry  ", "ĉeĥa"} {
		got := m.Match(s, s)
		assert.Equal(t, 1.0, got.Confidence, "input %q", s)
		assert.True(t, got.Matched)
	}
}

func TestMatch_FarStringsNeverMatch(t *testing.T) {
	got := New().Match("quantum_manufacturing", "CNC Machining")
	assert.False(t, got.Matched)
	assert.Zero(t, got.Confidence)
	assert.Greater(t, got.Distance, 2)
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 0, Distance("", ""))
	assert.Equal(t, 3, Distance("abc", ""))
	assert.Equal(t, 3, Distance("kitten", "sitting"))
	assert.Equal(t, 1, Distance("café", "cafe"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "cnc machining", Normalize("  CNC \t Machining\n"))
}
