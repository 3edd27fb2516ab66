// Package validation checks a supply tree's requirements under a named validation
// context and reports violations with their severity.
package validation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/metrics"
	"github.com/anvil-platform/forge/internal/supplytree"
)

// ErrNilTree is returned by Validate for a nil tree.
var ErrNilTree = errors.New("validation: nil supply tree")

// MinConfidenceKey is the acceptance criterion compared against the subject's match
// confidence rather than its parameters.
const MinConfidenceKey = "min_confidence"

// StandardsParam is the subject parameter listing the standards it complies with.
const StandardsParam = "standards"

// Status is the state of one requirement under one context.
//
//	Unvalidated -> Checked -> Passed | Failed
//
// Checked is transient inside Validate; an Outcome only holds terminal states and
// Unvalidated for checks skipped by a blocking failure.
type Status string

const (
	StatusUnvalidated Status = "Unvalidated"
	StatusChecked     Status = "Checked"
	StatusPassed      Status = "Passed"
	StatusFailed      Status = "Failed"
)

// Level is where in the tree a requirement is attached.
type Level string

const (
	LevelNode     Level = "node"
	LevelWorkflow Level = "workflow"
	LevelGlobal   Level = "global"
)

// Check records what happened to one requirement.
type Check struct {
	Level       Level                 `json:"level"`
	Workflow    supplytree.WorkflowID `json:"workflow,omitempty"`
	Node        supplytree.NodeID     `json:"node,omitempty"`
	Requirement string                `json:"requirement"`
	Context     string                `json:"context"`
	Status      Status                `json:"status"`
	Reason      string                `json:"reason,omitempty"`
}

// Violation is a failed check with its failure response applied.
type Violation struct {
	Level              Level                 `json:"level"`
	Workflow           supplytree.WorkflowID `json:"workflow,omitempty"`
	Node               supplytree.NodeID     `json:"node,omitempty"`
	Requirement        string                `json:"requirement"`
	Context            string                `json:"context"`
	Severity           float64               `json:"severity"`
	Blocking           bool                  `json:"blocking"`
	Reason             string                `json:"reason"`
	RemediationOptions []string              `json:"remediationOptions,omitempty"`
	RerouteOptions     []string              `json:"rerouteOptions,omitempty"`
}

// Outcome is the result of validating one tree under one context.
type Outcome struct {
	Valid      bool        `json:"valid"`
	Context    string      `json:"context"`
	Violations []Violation `json:"violations,omitempty"`
	Checks     []Check     `json:"checks,omitempty"`
}

// Counts returns the number of checks in each status.
func (o Outcome) Counts() map[Status]int {
	out := make(map[Status]int, 4)
	for _, c := range o.Checks {
		out[c.Status]++
	}
	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithProcedure registers a named procedure. Contexts that name a procedure without
// carrying a predicate (for example after JSON decoding) resolve it here.
func WithProcedure(name string, p supplytree.Procedure) Option {
	return func(e *Engine) { e.procedures[name] = p }
}

func WithLogger(log logr.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine validates supply trees. It is safe for concurrent use.
type Engine struct {
	procedures map[string]supplytree.Procedure
	log        logr.Logger
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{procedures: make(map[string]supplytree.Procedure), log: logr.Discard()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// item is one requirement waiting to be checked.
type item struct {
	level    Level
	workflow supplytree.WorkflowID
	node     supplytree.NodeID
	req      supplytree.ProcessRequirement
	subject  supplytree.Subject
}

// Validate checks every requirement of tree under contextID (the tree's default context
// when empty). Node requirements run first, in topological order per workflow, then
// workflow requirements, then global ones. Within one level of one workflow, and within
// the global level, the first blocking failure leaves the remaining checks Unvalidated.
func (e *Engine) Validate(tree *supplytree.SupplyTree, contextID string) (Outcome, error) {
	if tree == nil {
		return Outcome{}, ErrNilTree
	}
	if contextID == "" {
		contextID = tree.DefaultContext
	}

	run := &run{engine: e, tree: tree, contextID: contextID, outcome: Outcome{Valid: true, Context: contextID}}

	workflows := tree.Workflows()
	for _, wf := range workflows {
		var batch []item
		for _, id := range wf.TopologicalOrder() {
			n, _ := wf.Node(id)
			subject := nodeSubject(n)
			for _, r := range n.Requirements {
				batch = append(batch, item{level: LevelNode, workflow: wf.ID, node: n.ID, req: r, subject: subject})
			}
		}
		run.level(batch)
	}

	for _, wf := range workflows {
		subject := workflowSubject(wf)
		batch := make([]item, 0, len(wf.Requirements))
		for _, r := range wf.Requirements {
			batch = append(batch, item{level: LevelWorkflow, workflow: wf.ID, req: r, subject: subject})
		}
		run.level(batch)
	}

	subject := treeSubject(tree)
	global := tree.GlobalRequirements()
	batch := make([]item, 0, len(global))
	for _, r := range global {
		batch = append(batch, item{level: LevelGlobal, req: r, subject: subject})
	}
	run.level(batch)

	for _, v := range run.outcome.Violations {
		metrics.ValidationViolationsTotal.WithLabelValues(strconv.FormatBool(v.Blocking)).Inc()
	}
	e.log.V(1).Info("validated supply tree", "tree", tree.ID, "context", contextID,
		"valid", run.outcome.Valid, "violations", len(run.outcome.Violations))
	return run.outcome, nil
}

type run struct {
	engine    *Engine
	tree      *supplytree.SupplyTree
	contextID string
	outcome   Outcome
}

// level checks one batch in order, stopping at the first blocking failure.
func (r *run) level(batch []item) {
	blocked := false
	for _, it := range batch {
		c := Check{
			Level:       it.level,
			Workflow:    it.workflow,
			Node:        it.node,
			Requirement: it.req.Name,
			Context:     r.contextID,
			Status:      StatusUnvalidated,
		}
		if blocked {
			c.Reason = "skipped after blocking failure"
			r.outcome.Checks = append(r.outcome.Checks, c)
			continue
		}

		reason, applies := r.engine.check(r.tree.Domain, it.req, it.subject, r.contextID)
		if reason == "" {
			c.Status = StatusPassed
			if !applies {
				c.Reason = "no validation context " + strconv.Quote(r.contextID)
			}
			r.outcome.Checks = append(r.outcome.Checks, c)
			continue
		}

		c.Status = StatusFailed
		c.Reason = reason
		r.outcome.Checks = append(r.outcome.Checks, c)

		resp := it.req.Validation.Response(r.contextID)
		v := Violation{
			Level:              it.level,
			Workflow:           it.workflow,
			Node:               it.node,
			Requirement:        it.req.Name,
			Context:            r.contextID,
			Severity:           resp.Severity,
			Blocking:           resp.IsBlocking(),
			Reason:             reason,
			RemediationOptions: resp.RemediationOptions,
			RerouteOptions:     resp.RerouteOptions,
		}
		r.outcome.Violations = append(r.outcome.Violations, v)
		if v.Blocking {
			r.outcome.Valid = false
			blocked = true
		}
	}
}

// check returns an empty reason when req passes. applies is false when the requirement
// has no entry for contextID (a pass by default).
func (e *Engine) check(treeDomain string, req supplytree.ProcessRequirement, s supplytree.Subject, contextID string) (reason string, applies bool) {
	vc, ok := req.Validation.Context(contextID)
	if !ok {
		return "", false
	}
	if vc.Domain != "" && treeDomain != "" && domain.Key(vc.Domain) != domain.Key(treeDomain) {
		return "", false
	}

	if missing := missingStandards(vc.Standards, s.Parameters[StandardsParam]); len(missing) > 0 {
		return "missing standards: " + strings.Join(missing, ", "), true
	}

	keys := make([]string, 0, len(vc.AcceptanceCriteria))
	for k := range vc.AcceptanceCriteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		want := vc.AcceptanceCriteria[k]
		if k == MinConfidenceKey {
			minimum, ok := supplytree.Numeric(want)
			if !ok {
				return fmt.Sprintf("criterion %s is not numeric: %v", k, want), true
			}
			if s.Confidence < minimum {
				return fmt.Sprintf("confidence %.2f below %.2f", s.Confidence, minimum), true
			}
			continue
		}
		got, ok := s.Parameters[k]
		if !ok {
			return fmt.Sprintf("criterion %s: parameter missing", k), true
		}
		if !supplytree.ValuesEqual(want, got) {
			return fmt.Sprintf("criterion %s: got %v, want %v", k, got, want), true
		}
	}

	for _, name := range vc.ProcedureNames() {
		p := vc.Procedures[name]
		if p == nil {
			p = e.procedures[name]
		}
		if p == nil {
			return "unknown procedure " + name, true
		}
		if !p(s) {
			return "procedure " + name + " failed", true
		}
	}

	if req.Specification != nil {
		if err := req.Specification.Accepts(s.Parameters); err != nil {
			return "specification: " + err.Error(), true
		}
	}
	return "", true
}

func missingStandards(required []string, declared any) []string {
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]struct{})
	add := func(s string) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			have[s] = struct{}{}
		}
	}
	switch v := declared.(type) {
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		for _, s := range v {
			add(fmt.Sprint(s))
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			add(s)
		}
	}

	var missing []string
	for _, s := range required {
		if _, ok := have[strings.ToLower(strings.TrimSpace(s))]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

func nodeSubject(n supplytree.WorkflowNode) supplytree.Subject {
	s := supplytree.Subject{Name: n.Name, Facility: n.Facility}
	if n.MatchConfidence != nil {
		s.Confidence = *n.MatchConfidence
	}
	if n.MatchedCapability != nil {
		s.Parameters = n.MatchedCapability.Parameters
	}
	return s
}

func workflowSubject(wf *supplytree.Workflow) supplytree.Subject {
	s := supplytree.Subject{Name: wf.Name, Facility: wf.Facility, Parameters: wf.Parameters}
	sum, count := 0.0, 0
	for _, n := range wf.Nodes() {
		if n.MatchConfidence != nil {
			sum += *n.MatchConfidence
			count++
		}
	}
	if count > 0 {
		s.Confidence = sum / float64(count)
	} else {
		s.Confidence = 1
	}
	return s
}

func treeSubject(t *supplytree.SupplyTree) supplytree.Subject {
	facilities := t.Facilities()
	standards := commonStandards(t)
	return supplytree.Subject{
		Name:       t.ID,
		Confidence: t.AggregateConfidence,
		Parameters: map[string]any{
			"domain":         t.Domain,
			"facilities":     facilities,
			"facility_count": len(facilities),
			StandardsParam:   standards,
		},
	}
}

// commonStandards is the set of standards every workflow of the tree declares.
func commonStandards(t *supplytree.SupplyTree) []string {
	var common map[string]struct{}
	for _, wf := range t.Workflows() {
		declared := make(map[string]struct{})
		switch v := wf.Parameters[StandardsParam].(type) {
		case []string:
			for _, s := range v {
				declared[s] = struct{}{}
			}
		case []any:
			for _, s := range v {
				declared[fmt.Sprint(s)] = struct{}{}
			}
		}
		if common == nil {
			common = declared
			continue
		}
		for s := range common {
			if _, ok := declared[s]; !ok {
				delete(common, s)
			}
		}
	}
	out := make([]string, 0, len(common))
	for s := range common {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
