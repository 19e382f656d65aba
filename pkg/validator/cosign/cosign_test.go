package cosign

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/policy"
)

func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cosign")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testImage(t *testing.T) image.Ref {
	t.Helper()
	ref, err := image.Parse("alice-image:test")
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestValidateParsesDigests(t *testing.T) {
	bin := fakeBinary(t, `cat >/dev/null
echo '{"Critical":{"Image":{"Docker-manifest-digest":"sha256:abc123"}}}'
exit 0
`)
	v := New("default", bin, "fake-pem-body")
	digests, err := v.Validate(context.Background(), testImage(t), policy.Rule{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(digests) != 1 || digests[0] != "sha256:abc123" {
		t.Fatalf("unexpected digests: %v", digests)
	}
}

func TestValidateNoMatchingSignatures(t *testing.T) {
	bin := fakeBinary(t, `cat >/dev/null
printf 'error: no matching signatures:\nunable to verify signature\n' >&2
exit 1
`)
	v := New("default", bin, "fake-pem-body")
	_, err := v.Validate(context.Background(), testImage(t), policy.Rule{})
	if !apperr.Is(err, apperr.SignatureInvalid) {
		t.Fatalf("expected SignatureInvalid, got %v", err)
	}
}

func TestValidateManifestUnknown(t *testing.T) {
	bin := fakeBinary(t, `cat >/dev/null
printf 'error: GET https://registry/v2/x/manifests/y MANIFEST_UNKNOWN: manifest unknown\n' >&2
exit 1
`)
	v := New("default", bin, "fake-pem-body")
	_, err := v.Validate(context.Background(), testImage(t), policy.Rule{})
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestValidateUnrecognizedErrorBecomesCosignError(t *testing.T) {
	bin := fakeBinary(t, `cat >/dev/null
printf 'error: something else entirely\n' >&2
exit 1
`)
	v := New("default", bin, "fake-pem-body")
	_, err := v.Validate(context.Background(), testImage(t), policy.Rule{})
	if !apperr.Is(err, apperr.CosignError) {
		t.Fatalf("expected CosignError, got %v", err)
	}
}
