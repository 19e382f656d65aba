// Package static implements the static validator (C8): an
// unconditional allow or deny, grounded on
// original_source/connaisseur/validators/static/static_validator.py.
package static

import (
	"context"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/policy"
)

// Validator always returns nil digests (approve, no mutation) or
// always fails (deny), per its Approve flag.
type Validator struct {
	name    string
	Approve bool
}

// New builds a static Validator.
func New(name string, approve bool) *Validator {
	return &Validator{name: name, Approve: approve}
}

func (v *Validator) Name() string { return v.name }

// Validate returns a nil digest slice on approve, or a ValidationError
// equivalent (apperr.SignatureInvalid) otherwise.
func (v *Validator) Validate(_ context.Context, _ image.Ref, _ policy.Rule) ([]string, error) {
	if !v.Approve {
		return nil, apperr.New(apperr.SignatureInvalid, "static deny")
	}
	return nil, nil
}

func (v *Validator) Healthy(_ context.Context) bool { return true }
