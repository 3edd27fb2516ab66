package supplytree

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/anvil-platform/forge/internal/semver"
)

type PortKind string

const (
	PortInput  PortKind = "input"
	PortOutput PortKind = "output"
)

// Port is the typed interface of a workflow node.
type Port struct {
	ID            PortID         `json:"id"`
	Name          string         `json:"name"`
	Kind          PortKind       `json:"kind"`
	ItemType      string         `json:"itemType"`
	Specification map[string]any `json:"specification,omitempty"`
}

// CheckCompatible returns nil when out may feed in: out is an output port, in is an
// input port, item types match case-insensitively and every key of in's specification
// is offered by out's. An offered value matches when it is equal, or when the required
// value is a semver constraint and the offered value a version that satisfies it.
func CheckCompatible(out, in Port) error {
	if out.Kind != PortOutput {
		return fmt.Errorf("%w: port %q is not an output", ErrIncompatiblePorts, out.Name)
	}
	if in.Kind != PortInput {
		return fmt.Errorf("%w: port %q is not an input", ErrIncompatiblePorts, in.Name)
	}
	if !strings.EqualFold(strings.TrimSpace(out.ItemType), strings.TrimSpace(in.ItemType)) {
		return fmt.Errorf("%w: item type %q does not match %q", ErrIncompatiblePorts, out.ItemType, in.ItemType)
	}

	keys := make([]string, 0, len(in.Specification))
	for k := range in.Specification {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		want := in.Specification[k]
		got, ok := out.Specification[k]
		if !ok {
			return fmt.Errorf("%w: output does not specify %q", ErrIncompatiblePorts, k)
		}
		if !specValueAccepts(want, got) {
			return fmt.Errorf("%w: %q is %v, want %v", ErrIncompatiblePorts, k, got, want)
		}
	}
	return nil
}

func specValueAccepts(want, got any) bool {
	if ValuesEqual(want, got) {
		return true
	}
	ws, ok1 := want.(string)
	gs, ok2 := got.(string)
	if !ok1 || !ok2 {
		return false
	}
	ok, err := semver.Check(gs, ws)
	return err == nil && ok
}

// ValuesEqual compares loosely typed parameter values. Numbers compare by value
// whatever their Go type, so values survive a JSON round trip.
func ValuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Numeric parses v as a number, accepting numeric strings.
func Numeric(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}
