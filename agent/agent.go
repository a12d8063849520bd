// Package agent holds the verification agents that check sections of a
// bid document against the tender's requirements, plus the registry the
// pipeline dispatches through.
package agent

import (
	"context"
	"fmt"

	"github.com/tenderlens/tenderlens/multimodal"
)

// Verdicts an agent can reach about its subject.
const (
	VerdictPass         = "pass"
	VerdictFail         = "fail"
	VerdictInconclusive = "inconclusive"
)

// FieldComparison records one field checked against the tender's expected
// value.
type FieldComparison struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Found    string `json:"found"`
	Match    bool   `json:"match"`
}

// Finding is the outcome of one agent run over one subject.
type Finding struct {
	AgentKind  string            `json:"agent_kind"`
	SubjectRef string            `json:"subject_ref"`
	Verdict    string            `json:"verdict"`
	Details    []FieldComparison `json:"details,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Subject is the material an agent verifies: a split section's text, any
// certificate scans extracted from it, and the tender descriptor to check
// against.
type Subject struct {
	Ref        string
	Text       string
	Images     []multimodal.EncodedImage
	Descriptor Descriptor
}

// Descriptor carries the tender-side reference values agents compare
// bid content against.
type Descriptor struct {
	ProjectNumber string `json:"project_number"`
	ProjectName   string `json:"project_name"`
	Purchaser     string `json:"purchaser,omitempty"`
}

// Agent verifies one concern over a document subject.
type Agent interface {
	Kind() string
	Verify(ctx context.Context, sub Subject) (Finding, error)
}

// Registry maps agent kinds to agents.
type Registry struct {
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

func (r *Registry) Register(a Agent) {
	r.agents[a.Kind()] = a
}

func (r *Registry) Get(kind string) (Agent, error) {
	a, ok := r.agents[kind]
	if !ok {
		return nil, fmt.Errorf("no agent for kind: %s", kind)
	}
	return a, nil
}

// Kinds returns the registered agent kinds in no particular order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.agents))
	for k := range r.agents {
		kinds = append(kinds, k)
	}
	return kinds
}
