// Package cosign implements the cosign validator (C7): invoking the
// external cosign binary as a subprocess and parsing its "Simple
// Signing" stdout into verified digests, grounded on
// original_source/connaisseur/sigstore_validator.py.
package cosign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/logging"
	"github.com/sse-secure-systems/connaisseur/pkg/policy"
)

var manifestUnknownRe = regexp.MustCompile(`^error: GET https://\S+ MANIFEST_UNKNOWN:`)

const noMatchingSignatures = "error: no matching signatures:\nunable to verify signature\n"

// Validator shells out to a cosign binary to verify an image against
// a pinned ECDSA public key.
type Validator struct {
	name       string
	BinaryPath string
	PubKeyPEM  string
	Timeout    time.Duration
}

// New builds a cosign Validator. pubKeyPEM is the PEM-encoded ECDSA
// public key body (without the "BEGIN/END PUBLIC KEY" wrapper is also
// accepted; normalizePEM adds it in Validate).
func New(name, binaryPath, pubKeyPEM string) *Validator {
	if binaryPath == "" {
		binaryPath = "cosign"
	}
	return &Validator{name: name, BinaryPath: binaryPath, PubKeyPEM: pubKeyPEM, Timeout: 120 * time.Second}
}

func (v *Validator) Name() string { return v.name }

func (v *Validator) Healthy(_ context.Context) bool { return true }

// Validate invokes cosign verify for img and returns the set of
// signed manifest digests found in its "Simple Signing" output.
func (v *Validator) Validate(ctx context.Context, img image.Ref, _ policy.Rule) ([]string, error) {
	stdin := normalizePEM(v.PubKeyPEM)

	ctx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, v.BinaryPath, "verify", "-key", "/dev/stdin", img.String())
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	logging.FromContext(ctx).Debugw("cosign invocation finished",
		"image", img.String(), "err", err, "stderr", stderr.String())

	if ctx.Err() != nil {
		return nil, apperr.New(apperr.CosignTimeout, "cosign timed out verifying %s", img)
	}

	if err == nil {
		return parseDigests(stdout.String()), nil
	}

	stderrStr := stderr.String()
	switch {
	case stderrStr == noMatchingSignatures:
		return nil, apperr.New(apperr.SignatureInvalid, "failed to verify signature of trust data for %s", img)
	case manifestUnknownRe.MatchString(stderrStr):
		return nil, apperr.New(apperr.NotFound, "no trust data for image %q", img)
	default:
		return nil, apperr.New(apperr.CosignError, "unexpected cosign error for image %q: %s", img, stderrStr)
	}
}

// parseDigests reads cosign's newline-delimited JSON "Simple Signing"
// payloads and collects Critical.Image.Docker-manifest-digest from
// each line that parses as JSON, silently skipping lines that don't.
func parseDigests(stdout string) []string {
	var digests []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var payload struct {
			Critical struct {
				Image struct {
					DockerManifestDigest string `json:"Docker-manifest-digest"`
				} `json:"Image"`
			} `json:"Critical"`
		}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		if d := payload.Critical.Image.DockerManifestDigest; d != "" {
			digests = append(digests, d)
		}
	}
	return digests
}

func normalizePEM(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "-----BEGIN") {
		return key
	}
	return fmt.Sprintf("-----BEGIN PUBLIC KEY-----\n%s\n-----END PUBLIC KEY-----", key)
}
