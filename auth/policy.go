package auth

import (
	"errors"
	"fmt"

	"github.com/axisimaging/dicomweb"
)

// ErrAccessDenied is returned when the policy denies an operation.
var ErrAccessDenied = errors.New("access denied")

// Role names. Implication is one-way: admin implies writer, writer
// implies reader.
const (
	RoleReader = "reader"
	RoleWriter = "writer"
	RoleAdmin  = "admin"
)

var roleImplies = map[string][]string{
	RoleAdmin:  {RoleAdmin, RoleWriter, RoleReader},
	RoleWriter: {RoleWriter, RoleReader},
	RoleReader: {RoleReader},
}

// EffectiveRoles expands a held role set through the implication map.
func EffectiveRoles(held []string) map[string]bool {
	out := make(map[string]bool, len(held))
	for _, r := range held {
		implied, ok := roleImplies[r]
		if !ok {
			out[r] = true
			continue
		}
		for _, i := range implied {
			out[i] = true
		}
	}
	return out
}

// OperationRequirement is the role/scope gate configured for one
// operation.
type OperationRequirement struct {
	Roles  []string
	Scopes []string
}

// PolicyConfig is the process-wide, read-only authorization policy.
type PolicyConfig struct {
	// AnonymousRead allows unauthenticated access to read-classified
	// operations.
	AnonymousRead bool
	// Operations overrides the default per-operation requirements.
	Operations map[dicomweb.Operation]OperationRequirement
}

// Policy evaluates access decisions. It holds no mutable state; every
// decision is a pure function of (user, operation, resource) and the
// configuration.
type Policy struct {
	cfg PolicyConfig
}

func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{cfg: cfg}
}

// Authorize decides whether user may perform op on res. A nil user means
// no credential was presented.
func (p *Policy) Authorize(user *User, op dicomweb.Operation, res dicomweb.Resource) error {
	if op.IsPublic() {
		return nil
	}

	if user == nil {
		if p.cfg.AnonymousRead && op.IsRead() {
			return nil
		}
		return fmt.Errorf("%w: %s requires authentication", ErrAccessDenied, op)
	}

	effective := EffectiveRoles(user.Roles)
	if effective[RoleAdmin] {
		return nil
	}

	req := p.requirementFor(op)

	if len(req.Roles) > 0 && !intersectsRoles(effective, req.Roles) {
		return fmt.Errorf("%w: %s requires one of roles %v", ErrAccessDenied, op, req.Roles)
	}

	if len(req.Scopes) > 0 && !intersects(user.Scopes, req.Scopes) {
		return fmt.Errorf("%w: %s requires one of scopes %v", ErrAccessDenied, op, req.Scopes)
	}

	// Patient-context restriction wins over role and scope grants.
	if user.PatientID != "" && res.PatientID != "" && user.PatientID != res.PatientID {
		return fmt.Errorf("%w: %s outside patient context", ErrAccessDenied, op)
	}

	return nil
}

// requirementFor returns the configured gate for op, defaulting to
// reader for read operations and writer for mutating ones.
func (p *Policy) requirementFor(op dicomweb.Operation) OperationRequirement {
	if req, ok := p.cfg.Operations[op]; ok {
		return req
	}
	if op.IsRead() {
		return OperationRequirement{Roles: []string{RoleReader}}
	}
	return OperationRequirement{Roles: []string{RoleWriter}}
}

func intersectsRoles(held map[string]bool, wanted []string) bool {
	for _, w := range wanted {
		if held[w] {
			return true
		}
	}
	return false
}

func intersects(held, wanted []string) bool {
	set := make(map[string]bool, len(held))
	for _, h := range held {
		set[h] = true
	}
	for _, w := range wanted {
		if set[w] {
			return true
		}
	}
	return false
}
