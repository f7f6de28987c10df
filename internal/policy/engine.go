// Package policy decides whether a principal may impersonate a partner.
// Decisions are evaluated in-process with OPA Rego; a directory may carry a
// custom policy document, otherwise the default allowed-list policy applies.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"partner-auth-plane/internal/directory/domain"
)

const policyQuery = "data.partnerauth.impersonation.allow"

// Default policy: the actor must be in the directory's impersonator list.
const defaultRegoPolicy = `package partnerauth.impersonation

default allow = false

allow if {
	some id in input.directory.impersonators
	id == input.actor_id
}
`

// Evaluator evaluates impersonation policy.
type Evaluator interface {
	// AllowImpersonation reports whether actorID may impersonate the given
	// partner of dir.
	AllowImpersonation(ctx context.Context, actorID string, dir *domain.Directory, partnerID, partnerLogin string) (bool, error)
}

// OPAEvaluator evaluates impersonation policy with OPA Rego.
type OPAEvaluator struct{}

// NewOPAEvaluator returns an OPA-based impersonation evaluator.
func NewOPAEvaluator() *OPAEvaluator {
	return &OPAEvaluator{}
}

// HealthCheck verifies the default policy compiles and evaluates. Returns nil
// on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, defaultRegoPolicy, map[string]any{
		"actor_id": "",
		"directory": map[string]any{
			"id":            "",
			"impersonators": []string{},
		},
		"partner": map[string]any{"id": "", "login": ""},
	})
	return err
}

// AllowImpersonation evaluates the directory's policy (or the default) for
// the given actor and partner. Evaluation errors deny.
func (e *OPAEvaluator) AllowImpersonation(ctx context.Context, actorID string, dir *domain.Directory, partnerID, partnerLogin string) (bool, error) {
	source := dir.PolicyRego
	if source == "" {
		source = defaultRegoPolicy
	}
	impersonators := dir.ImpersonatorIDs
	if impersonators == nil {
		impersonators = []string{}
	}
	input := map[string]any{
		"actor_id": actorID,
		"directory": map[string]any{
			"id":            dir.ID,
			"impersonators": impersonators,
		},
		"partner": map[string]any{
			"id":    partnerID,
			"login": partnerLogin,
		},
	}
	return e.eval(ctx, source, input)
}

func (e *OPAEvaluator) eval(ctx context.Context, source string, input map[string]any) (bool, error) {
	compiler, err := ast.CompileModules(map[string]string{"impersonation.rego": source})
	if err != nil {
		return false, fmt.Errorf("policy: compile: %w", err)
	}
	q := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("policy: eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allow, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, nil
	}
	return allow, nil
}
