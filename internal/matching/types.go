package matching

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anvil-platform/forge/internal/rules"
	"github.com/anvil-platform/forge/internal/semantic"
	"github.com/anvil-platform/forge/internal/stringmatch"
)

// ErrInvalidInput marks malformed requirement or capability records. Callers should
// not retry.
var ErrInvalidInput = errors.New("matching: invalid input")

// Requirement is a named need declared by a project.
type Requirement struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Capability is a named ability declared by a facility.
type Capability struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Layer names the matching strategy that decided a comparison.
type Layer string

const (
	LayerDirect    Layer = "direct"
	LayerHeuristic Layer = "heuristic"
	LayerSemantic  Layer = "semantic"
	LayerNone      Layer = "none"
)

// rank orders layers by precision; lower is better.
func (l Layer) rank() int {
	switch l {
	case LayerDirect:
		return 0
	case LayerHeuristic:
		return 1
	case LayerSemantic:
		return 2
	default:
		return 3
	}
}

// Details is the trace of how a result was reached. Only the fields of layers that ran
// are populated.
type Details struct {
	StringTier    stringmatch.Tier `json:"stringTier,omitempty"`
	EditDistance  int              `json:"editDistance"`
	RuleDirection rules.Direction  `json:"ruleDirection,omitempty"`
	Similarity    float64          `json:"similarity,omitempty"`
	Threshold     float64          `json:"threshold,omitempty"`
	Method        semantic.Method  `json:"method,omitempty"`
}

// Result is the outcome of comparing one requirement with one capability. It is a
// value; nothing mutates it after Evaluate returns.
type Result struct {
	Requirement Requirement `json:"requirement"`
	Capability  Capability  `json:"capability"`
	Domain      string      `json:"domain"`
	Matched     bool        `json:"matched"`
	Confidence  float64     `json:"confidence"`
	Layer       Layer       `json:"layer"`
	RuleID      string      `json:"ruleId,omitempty"`
	Details     *Details    `json:"details,omitempty"`
}

// Better reports whether r should be preferred over other: higher confidence, then the
// more precise layer, then the lexically smaller capability name.
func (r Result) Better(other Result) bool {
	if r.Matched != other.Matched {
		return r.Matched
	}
	if r.Confidence != other.Confidence {
		return r.Confidence > other.Confidence
	}
	if r.Layer.rank() != other.Layer.rank() {
		return r.Layer.rank() < other.Layer.rank()
	}
	return r.Capability.Name < other.Capability.Name
}

// Stats counts results per deciding layer.
type Stats struct {
	Direct    int `json:"direct_matches"`
	Heuristic int `json:"heuristic_matches"`
	Semantic  int `json:"semantic_matches"`
	None      int `json:"no_matches"`
}

func (s *Stats) add(l Layer) {
	switch l {
	case LayerDirect:
		s.Direct++
	case LayerHeuristic:
		s.Heuristic++
	case LayerSemantic:
		s.Semantic++
	default:
		s.None++
	}
}

// Total is the number of comparisons counted.
func (s Stats) Total() int {
	return s.Direct + s.Heuristic + s.Semantic + s.None
}

// Report is the outcome of a cross-product evaluation. Results are requirement-major:
// all capabilities for the first requirement, then the second, and so on.
type Report struct {
	Results []Result `json:"results"`
	Stats   Stats    `json:"stats"`
}

// Best returns the preferred matched result for the requirement name.
func (r Report) Best(requirement string) (Result, bool) {
	var best Result
	found := false
	for _, res := range r.Results {
		if !res.Matched || res.Requirement.Name != requirement {
			continue
		}
		if !found || res.Better(best) {
			best = res
			found = true
		}
	}
	return best, found
}

func checkName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s name is empty", ErrInvalidInput, kind)
	}
	return nil
}
