// Package image parses free-form container image strings into the
// registry/repository/name/tag/digest tuple the rest of the
// verification pipeline operates on.
package image

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

const (
	defaultRegistry   = "docker.io"
	defaultRepository = "library"
	defaultTag        = "latest"
)

var digestRe = regexp.MustCompile(`^sha256:[0-9a-fA-F]{64}$`)

// Ref is an immutable, parsed image reference. At least one of Tag or
// Digest is always set after construction.
type Ref struct {
	registry   string
	repository string
	name       string
	tag        string // may be empty when Digest is set
	digest     string // "sha256:<64hex>", or empty
}

// Parse decomposes s per spec.md section 4.1:
//
//	[registry[:port]/][repository/]name[:tag][@sha256:hex]
//
// then applies the docker.io/library/latest defaulting of section 3.
// When both a tag and a digest are present, the digest wins for
// equality but the tag is retained for display.
func Parse(s string) (Ref, error) {
	if s == "" {
		return Ref{}, fmt.Errorf("invalid image reference: empty string")
	}

	rest := s
	var digest string
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		digest = rest[at+1:]
		rest = rest[:at]
		if !digestRe.MatchString(digest) {
			return Ref{}, fmt.Errorf("invalid image reference %q: malformed digest %q", s, digest)
		}
	}

	var tag string
	if colon := strings.LastIndex(rest, ":"); colon >= 0 && !strings.Contains(rest[colon:], "/") {
		tag = rest[colon+1:]
		rest = rest[:colon]
	}

	segments := strings.Split(rest, "/")
	if len(segments) == 0 || segments[len(segments)-1] == "" {
		return Ref{}, fmt.Errorf("invalid image reference %q: missing name", s)
	}

	imgName := segments[len(segments)-1]
	segments = segments[:len(segments)-1]

	var registry string
	if len(segments) > 0 && isRegistrySegment(segments[0]) {
		registry = segments[0]
		segments = segments[1:]
	}
	repository := strings.Join(segments, "/")

	// Validate the registry/repository shape against go-containerregistry's
	// own grammar so we reject anything it would also reject (illegal
	// characters, overlong components, etc).
	repoPath := imgName
	if repository != "" {
		repoPath = repository + "/" + imgName
	}
	if registry != "" {
		if _, err := name.NewRepository(registry + "/" + repoPath); err != nil {
			return Ref{}, fmt.Errorf("invalid image reference %q: %w", s, err)
		}
	} else if _, err := name.NewRepository(repoPath); err != nil {
		return Ref{}, fmt.Errorf("invalid image reference %q: %w", s, err)
	}

	r := Ref{
		registry:   registry,
		repository: repository,
		name:       imgName,
		tag:        tag,
		digest:     digest,
	}
	if r.registry == "" {
		r.registry = defaultRegistry
	}
	if r.repository == "" {
		r.repository = defaultRepository
	}
	if r.tag == "" && r.digest == "" {
		r.tag = defaultTag
	}
	return r, nil
}

// isRegistrySegment reports whether segment (the first "/"-separated
// piece of a reference, before repository/name) should be treated as a
// registry host rather than the start of the repository path: it
// contains a "." or ":", or is literally "localhost".
func isRegistrySegment(segment string) bool {
	return segment == "localhost" || strings.ContainsAny(segment, ".:")
}

func (r Ref) Registry() string   { return r.registry }
func (r Ref) Repository() string { return r.repository }
func (r Ref) Name() string       { return r.name }
func (r Ref) Tag() string        { return r.tag }

// HasDigest reports whether r carries a digest.
func (r Ref) HasDigest() bool { return r.digest != "" }

// Digest returns the hex-encoded sha256 digest without the "sha256:"
// prefix, or "" if r has no digest.
func (r Ref) Digest() string {
	if r.digest == "" {
		return ""
	}
	return strings.TrimPrefix(r.digest, "sha256:")
}

// RepoPath returns the repository/name portion joined with "/", used
// to build the notary v1 trust-data URL (spec.md section 4.5).
func (r Ref) RepoPath() string {
	if r.repository == "" {
		return r.name
	}
	return r.repository + "/" + r.name
}

// String renders the reference as registry/repo/name, plus ":tag" if
// present, plus "@sha256:digest" if present.
func (r Ref) String() string {
	var b strings.Builder
	b.WriteString(r.registry)
	b.WriteString("/")
	b.WriteString(r.RepoPath())
	if r.tag != "" {
		b.WriteString(":")
		b.WriteString(r.tag)
	}
	if r.digest != "" {
		b.WriteString("@")
		b.WriteString(r.digest)
	}
	return b.String()
}

// Pinned returns a copy of r with its digest set to hexDigest
// (64 lowercase hex characters, no "sha256:" prefix).
func (r Ref) Pinned(hexDigest string) Ref {
	r.digest = "sha256:" + hexDigest
	return r
}
