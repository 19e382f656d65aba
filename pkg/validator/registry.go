package validator

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/notary"
	"github.com/sse-secure-systems/connaisseur/pkg/validator/cosign"
	"github.com/sse-secure-systems/connaisseur/pkg/validator/notaryv1"
	"github.com/sse-secure-systems/connaisseur/pkg/validator/static"
)

// RootKeySpec is one named root key declared on a notaryv1 validator
// entry ({name, key} in config's root_keys list).
type RootKeySpec struct {
	Name    string
	KeyType string
	KeyPEM  []byte
}

// Spec is one parsed validator configuration entry, as produced by
// pkg/config after merging the config and secrets files. Field
// meaning depends on Type, mirroring
// original_source/connaisseur/config.py's flat per-validator dict
// passed as **kwargs into Validator.__new__.
type Spec struct {
	Name string
	Type string // "notaryv1" | "cosign" | "static"

	// notaryv1
	Host     string
	IsACR    bool
	Username string
	Password string
	RootKeys []RootKeySpec
	Cert     string // PEM CA certificate the notary host's TLS cert must chain to

	// cosign
	CosignBinary string
	CosignPubKey string

	// static
	Approve bool
}

// Build constructs the concrete Validator for spec, replacing the
// source's Validator.__new__ dynamic-dispatch with a compile-time type
// switch (spec.md's REDESIGN FLAGS item on dynamic class-dispatch
// registries), grounded on
// original_source/connaisseur/validators/validator.py.
func Build(spec Spec, httpClient *http.Client) (Validator, error) {
	switch spec.Type {
	case "notaryv1":
		notaryHTTPClient := httpClient
		if spec.Cert != "" {
			pinned, err := clientTrusting(spec.Cert)
			if err != nil {
				return nil, apperr.Wrap(apperr.ConfigurationError, err, "parsing cert for validator %q", spec.Name)
			}
			notaryHTTPClient = pinned
		}
		client := notary.NewClient(spec.Name, spec.Host, spec.IsACR, spec.Username, spec.Password, notaryHTTPClient)
		keys := make([]notaryv1.RootKey, 0, len(spec.RootKeys))
		for _, k := range spec.RootKeys {
			keys = append(keys, notaryv1.RootKey{Name: k.Name, KeyType: k.KeyType, PEM: k.KeyPEM})
		}
		return notaryv1.New(spec.Name, client, keys), nil
	case "cosign":
		return cosign.New(spec.Name, spec.CosignBinary, spec.CosignPubKey), nil
	case "static":
		return static.New(spec.Name, spec.Approve), nil
	default:
		return nil, apperr.New(apperr.ConfigurationError, "unknown validator type %q for %q", spec.Type, spec.Name)
	}
}

// clientTrusting builds an *http.Client whose TLS trust root is
// exactly the given PEM certificate, for a notaryv1 validator's
// "cert" configuration field (spec.md section 6).
func clientTrusting(certPEM string) (*http.Client, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(certPEM)) {
		return nil, apperr.New(apperr.ConfigurationError, "no valid certificate found")
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}, nil
}

// Registry is the read-only, startup-built name -> Validator map
// (C9), grounded on original_source/connaisseur/config.py's
// Config.get_validator.
type Registry struct {
	byName map[string]Validator
}

// NewRegistry builds a Registry from specs, failing fatally on an
// unknown validator type.
func NewRegistry(specs []Spec, httpClient *http.Client) (*Registry, error) {
	r := &Registry{byName: make(map[string]Validator, len(specs))}
	for _, spec := range specs {
		v, err := Build(spec, httpClient)
		if err != nil {
			return nil, err
		}
		r.byName[spec.Name] = v
	}
	return r, nil
}

// Get returns the validator named name, or "default" if name is empty.
// If only a single validator is configured, it is returned regardless
// of name, matching Config.get_validator's single-entry shortcut.
func (r *Registry) Get(name string) (Validator, error) {
	if len(r.byName) == 1 {
		for _, v := range r.byName {
			return v, nil
		}
	}
	if name == "" {
		name = "default"
	}
	v, ok := r.byName[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unable to find validator configuration %q", name)
	}
	return v, nil
}
