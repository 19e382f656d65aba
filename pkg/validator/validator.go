// Package validator defines the common Validator interface (C9) that
// pkg/validator/notaryv1, pkg/validator/cosign and pkg/validator/static
// implement, grounded on
// original_source/connaisseur/validators/interface.py.
package validator

import (
	"context"

	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/policy"
)

// Validator verifies that an image is trusted and returns the
// (possibly multiple, for cosign) signed digests found for it. The
// policy.Rule matched for the image carries the key/delegation
// selection, grounded on
// original_source/connaisseur/validate.py's policy_rule.key /
// policy_rule.delegations usage.
type Validator interface {
	// Name identifies this validator instance, as configured.
	Name() string
	// Validate returns the signed digest(s) for img under rule, or an
	// apperr-kinded error (SignatureInvalid, NotFound,
	// InsufficientTrustData, ...) describing why none could be
	// established.
	Validate(ctx context.Context, img image.Ref, rule policy.Rule) ([]string, error)
	// Healthy reports whether the validator's backing trust source is
	// currently reachable, mirroring ValidatorInterface.healthy.
	Healthy(ctx context.Context) bool
}
