// Package firewall gates which procedure variants a remote peer may invoke
// against which vault paths, evaluated by an OPA/Rego policy the same way
// the rest of this codebase's policy-driven authorization is evaluated.
package firewall

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Capability is one of the three actions a procedure can require on a
// vault: read a record, write a record, or use a secret inline (without
// exposing it) during execution.
type Capability string

const (
	CapabilityRead  Capability = "read"
	CapabilityWrite Capability = "write"
	CapabilityUse   Capability = "use"
)

// Request describes one gated call: a remote peer asking to run procedure
// against vaultPath with the listed capabilities.
type Request struct {
	Peer         string
	Procedure    string
	VaultPath    string
	Capabilities []Capability
}

const defaultPolicy = `
package stronghold.firewall

import future.keywords.if
import future.keywords.in

default allow = false

allow if {
	rule := data.stronghold.firewall.rules[_]
	rule.peer == input.peer
	rule.procedure == input.procedure
	rule.vault_path == input.vault_path
	every cap in input.capabilities {
		cap in rule.capabilities
	}
}
`

// Gate evaluates firewall requests against a compiled Rego policy. The zero
// value is not usable; build one with New.
type Gate struct {
	mu     sync.RWMutex
	query  rego.PreparedEvalQuery
	source string
}

// New compiles source as the firewall policy. If source is empty, a
// default-deny policy driven by a `data.stronghold.firewall.rules` list is
// used.
func New(ctx context.Context, source string) (*Gate, error) {
	if source == "" {
		source = defaultPolicy
	}
	q, err := prepareQuery(ctx, source)
	if err != nil {
		return nil, err
	}
	return &Gate{query: q, source: source}, nil
}

// NewFromFile loads the policy from path, falling back to the built-in
// default-deny policy if path does not exist.
func NewFromFile(ctx context.Context, path string) (*Gate, error) {
	if path == "" {
		return New(ctx, "")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return New(ctx, "")
	}
	return New(ctx, string(data))
}

func prepareQuery(ctx context.Context, source string) (rego.PreparedEvalQuery, error) {
	r := rego.New(
		rego.Query("data.stronghold.firewall.allow"),
		rego.Module("firewall.rego", source),
	)
	return r.PrepareForEval(ctx)
}

// Allow evaluates req against the gate's policy.
func (g *Gate) Allow(ctx context.Context, req Request) (bool, error) {
	g.mu.RLock()
	q := g.query
	g.mu.RUnlock()

	caps := make([]string, len(req.Capabilities))
	for i, c := range req.Capabilities {
		caps[i] = string(c)
	}
	input := map[string]any{
		"peer":         req.Peer,
		"procedure":    req.Procedure,
		"vault_path":   req.VaultPath,
		"capabilities": caps,
	}

	results, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("firewall: evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allow, _ := results[0].Expressions[0].Value.(bool)
	return allow, nil
}

// Reload recompiles the gate's policy from source.
func (g *Gate) Reload(ctx context.Context, source string) error {
	q, err := prepareQuery(ctx, source)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.query, g.source = q, source
	g.mu.Unlock()
	return nil
}

// Source returns the currently active policy text.
func (g *Gate) Source() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.source
}
