package matchservice

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/supplytree"
	"github.com/anvil-platform/forge/internal/validation"
)

// Requests and responses travel as google.protobuf.Struct; the types below are their
// JSON shapes.

type EvaluateRequest struct {
	Domain      string               `json:"domain"`
	Requirement matching.Requirement `json:"requirement"`
	Capability  matching.Capability  `json:"capability"`
}

type EvaluateResponse struct {
	Result matching.Result `json:"result"`
}

type EvaluateAllRequest struct {
	Domain       string                 `json:"domain"`
	Requirements []matching.Requirement `json:"requirements"`
	Capabilities []matching.Capability  `json:"capabilities"`
}

type EvaluateAllResponse struct {
	Report matching.Report `json:"report"`
}

// RequirementMessage is one project requirement.
type RequirementMessage struct {
	Name       string                           `json:"name"`
	Optional   bool                             `json:"optional,omitempty"`
	After      []string                         `json:"after,omitempty"`
	Parameters map[string]any                   `json:"parameters,omitempty"`
	Produces   string                           `json:"produces,omitempty"`
	Validation *supplytree.RequirementValidation `json:"validation,omitempty"`
}

type FacilityMessage struct {
	Name         string                `json:"name"`
	Capabilities []matching.Capability `json:"capabilities"`
	Parameters   map[string]any        `json:"parameters,omitempty"`
}

type BuildRequest struct {
	Domain             string                          `json:"domain"`
	Project            string                          `json:"project"`
	Requirements       []RequirementMessage            `json:"requirements"`
	GlobalRequirements []supplytree.ProcessRequirement `json:"globalRequirements,omitempty"`
	Facilities         []FacilityMessage               `json:"facilities"`
	DefaultContext     string                          `json:"defaultContext,omitempty"`
	ValidationContext  string                          `json:"validationContext,omitempty"`
	MaxSolutions       int                             `json:"maxSolutions,omitempty"`
}

type SolutionMessage struct {
	Tree    *supplytree.SupplyTree `json:"tree"`
	Outcome *validation.Outcome    `json:"outcome,omitempty"`
	// StoreRef is set when the server keeps built trees; GetTree resolves it.
	StoreRef string `json:"storeRef,omitempty"`
}

type UnresolvedMessage struct {
	Requirement string `json:"requirement"`
	Reason      string `json:"reason"`
}

type RejectionMessage struct {
	TreeID     string             `json:"treeId"`
	Facilities []string           `json:"facilities"`
	Outcome    validation.Outcome `json:"outcome"`
}

type BuildResponse struct {
	Solutions          []SolutionMessage   `json:"solutions"`
	UnresolvedRequired []UnresolvedMessage `json:"unresolvedRequired,omitempty"`
	UnresolvedOptional []UnresolvedMessage `json:"unresolvedOptional,omitempty"`
	Rejected           []RejectionMessage  `json:"rejected,omitempty"`
}

type GetTreeRequest struct {
	Ref string `json:"ref"`
}

type GetTreeResponse struct {
	Tree *supplytree.SupplyTree `json:"tree"`
}

func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

func decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
