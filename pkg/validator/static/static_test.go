package static

import (
	"context"
	"testing"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/policy"
)

func TestApproveReturnsNilDigest(t *testing.T) {
	v := New("default", true)
	ref, _ := image.Parse("alpine:latest")
	digests, err := v.Validate(context.Background(), ref, policy.Rule{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if digests != nil {
		t.Fatalf("expected nil digests, got %v", digests)
	}
}

func TestDenyFails(t *testing.T) {
	v := New("default", false)
	ref, _ := image.Parse("alpine:latest")
	_, err := v.Validate(context.Background(), ref, policy.Rule{})
	if !apperr.Is(err, apperr.SignatureInvalid) {
		t.Fatalf("expected SignatureInvalid, got %v", err)
	}
}
