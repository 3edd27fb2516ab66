package supplytree

import (
	"encoding/json"
	"fmt"

	"github.com/anvil-platform/forge/internal/matching"
)

// nodeJSON mirrors WorkflowNode field for field.
type nodeJSON struct {
	ID                NodeID               `json:"id"`
	Name              string               `json:"name"`
	Requirements      []ProcessRequirement `json:"requirements,omitempty"`
	InputPorts        []Port               `json:"inputPorts,omitempty"`
	OutputPorts       []Port               `json:"outputPorts,omitempty"`
	Facility          string               `json:"facility,omitempty"`
	MatchedCapability *matching.Capability `json:"matchedCapability,omitempty"`
	MatchConfidence   *float64             `json:"matchConfidence,omitempty"`
	Match             *matching.Result     `json:"match,omitempty"`
}

type workflowJSON struct {
	ID           WorkflowID           `json:"id"`
	Name         string               `json:"name"`
	Facility     string               `json:"facility,omitempty"`
	Requirements []ProcessRequirement `json:"requirements,omitempty"`
	Parameters   map[string]any       `json:"parameters,omitempty"`
	Nodes        []nodeJSON           `json:"nodes"`
	Edges        []Edge               `json:"edges,omitempty"`
}

type treeJSON struct {
	ID                  string               `json:"id"`
	Domain              string               `json:"domain"`
	DefaultContext      string               `json:"defaultContext,omitempty"`
	AggregateConfidence float64              `json:"aggregateConfidence"`
	Facilities          []string             `json:"facilities,omitempty"`
	Workflows           []workflowJSON       `json:"workflows"`
	Connections         []WorkflowConnection `json:"connections,omitempty"`
	GlobalRequirements  []ProcessRequirement `json:"globalRequirements,omitempty"`
	Finalized           bool                 `json:"finalized"`
}

func (t *SupplyTree) MarshalJSON() ([]byte, error) {
	w := treeJSON{
		ID:                  t.ID,
		Domain:              t.Domain,
		DefaultContext:      t.DefaultContext,
		AggregateConfidence: t.AggregateConfidence,
		Facilities:          t.facilities,
		Connections:         t.connections,
		GlobalRequirements:  t.global,
		Finalized:           t.finalized,
		Workflows:           make([]workflowJSON, 0, len(t.wfOrder)),
	}
	for _, wf := range t.Workflows() {
		ww := workflowJSON{
			ID:           wf.ID,
			Name:         wf.Name,
			Facility:     wf.Facility,
			Requirements: wf.Requirements,
			Parameters:   wf.Parameters,
			Edges:        wf.Edges(),
			Nodes:        make([]nodeJSON, 0, wf.Len()),
		}
		for _, n := range wf.Nodes() {
			ww.Nodes = append(ww.Nodes, nodeJSON(n))
		}
		w.Workflows = append(w.Workflows, ww)
	}
	return json.Marshal(w)
}

// UnmarshalJSON rebuilds the tree through its mutators, so a document describing a
// cycle or an incompatible connection is rejected.
func (t *SupplyTree) UnmarshalJSON(data []byte) error {
	var w treeJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := New(w.ID, w.Domain)
	out.DefaultContext = w.DefaultContext
	for _, ww := range w.Workflows {
		wf := NewWorkflow(ww.ID, ww.Name)
		wf.Facility = ww.Facility
		wf.Requirements = ww.Requirements
		wf.Parameters = ww.Parameters
		for _, n := range ww.Nodes {
			if err := wf.AddNode(WorkflowNode(n)); err != nil {
				return fmt.Errorf("workflow %s: %w", ww.ID, err)
			}
		}
		for _, e := range ww.Edges {
			if err := wf.Connect(e.From, e.To); err != nil {
				return fmt.Errorf("workflow %s: %w", ww.ID, err)
			}
		}
		if err := out.AddWorkflow(wf); err != nil {
			return err
		}
	}
	for _, f := range w.Facilities {
		out.addFacility(f)
	}
	for _, c := range w.Connections {
		if err := out.Connect(c); err != nil {
			return err
		}
	}
	out.global = w.GlobalRequirements

	if w.Finalized {
		out.Finalize()
	}
	// The stored confidence wins over the recomputed one.
	out.AggregateConfidence = w.AggregateConfidence
	*t = *out
	return nil
}
