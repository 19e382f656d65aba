// Package config loads and validates the validator configuration and
// policy files described in spec.md section 6, grounded on
// original_source/connaisseur/config.py's Config class.
package config

import (
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/policy"
	"github.com/sse-secure-systems/connaisseur/pkg/validator"
)

// RootKeyEntry is one {name, key} pair under a notaryv1 validator's
// root_keys list.
type RootKeyEntry struct {
	Name    string `yaml:"name"`
	KeyType string `yaml:"keytype,omitempty"`
	Key     string `yaml:"key"`
}

// AuthEntry is the {USER, PASS} basic-auth credential pair notaryv1
// reads from either the config file or an external auth.yaml,
// mirroring config.py's per-validator auth.yaml merge.
type AuthEntry struct {
	User string `yaml:"USER"`
	Pass string `yaml:"PASS"`
}

// ValidatorEntry is one validator's raw, merged-but-undispatched
// configuration, as spec.md section 6 describes:
// {name, type, host?, root_keys?, auth?, cert?, is_acr?, approve?}.
type ValidatorEntry struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Host     string         `yaml:"host,omitempty"`
	IsACR    bool           `yaml:"is_acr,omitempty"`
	Cert     string         `yaml:"cert,omitempty"`
	Auth     *AuthEntry     `yaml:"auth,omitempty"`
	RootKeys []RootKeyEntry `yaml:"root_keys,omitempty"`

	// cosign
	CosignKey    string `yaml:"key,omitempty"`
	CosignBinary string `yaml:"binary,omitempty"`

	// static
	Approve bool `yaml:"approve,omitempty"`
}

// File is the top-level validator configuration document: a flat list
// of entries, matching config.py's top-level list-of-dicts shape.
type File []ValidatorEntry

// SecretsFile maps a validator name to the fields a secrets file
// overlays onto it, mirroring config.py's per-name secrets merge.
type SecretsFile map[string]ValidatorEntry

// LoadValidators reads configPath and secretsPath, merges the secrets
// entry into each validator entry by name, validates it, and returns
// the validator.Spec list ready for validator.NewRegistry.
//
// Duplicate name: "default" validator entries are a fatal error, and
// so are duplicate "default" root keys within one entry (see toSpec
// and DESIGN.md).
func LoadValidators(configPath, secretsPath string) ([]validator.Spec, error) {
	var entries File
	if err := readYAML(configPath, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperr.New(apperr.ConfigurationError, "error loading connaisseur config file %s", configPath)
	}

	var secrets SecretsFile
	if secretsPath != "" {
		if _, err := os.Stat(secretsPath); err == nil {
			if err := readYAML(secretsPath, &secrets); err != nil {
				return nil, err
			}
		}
	}

	merged := make([]ValidatorEntry, len(entries))
	defaults := 0
	for i, e := range entries {
		if overlay, ok := secrets[e.Name]; ok {
			e = mergeEntry(e, overlay)
		}
		merged[i] = e
		if e.Name == "default" {
			defaults++
		}
	}
	if defaults > 1 {
		return nil, apperr.New(apperr.ConfigurationError, "too many default validator configurations")
	}

	specs := make([]validator.Spec, 0, len(merged))
	for _, e := range merged {
		spec, err := toSpec(e)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// mergeEntry overlays the non-zero fields of secrets onto base,
// exactly as config.py's dict.update(secrets_config.get(name, {}))
// does: the secrets entry wins field-by-field.
func mergeEntry(base, secrets ValidatorEntry) ValidatorEntry {
	if secrets.Type != "" {
		base.Type = secrets.Type
	}
	if secrets.Host != "" {
		base.Host = secrets.Host
	}
	if secrets.IsACR {
		base.IsACR = secrets.IsACR
	}
	if secrets.Cert != "" {
		base.Cert = secrets.Cert
	}
	if secrets.Auth != nil {
		base.Auth = secrets.Auth
	}
	if len(secrets.RootKeys) > 0 {
		base.RootKeys = secrets.RootKeys
	}
	if secrets.CosignKey != "" {
		base.CosignKey = secrets.CosignKey
	}
	if secrets.CosignBinary != "" {
		base.CosignBinary = secrets.CosignBinary
	}
	if secrets.Approve {
		base.Approve = secrets.Approve
	}
	return base
}

// toSpec validates e and converts it to a validator.Spec, enforcing
// the Open Question decision that duplicate root-key name: "default"
// entries within a single notaryv1 validator are a fatal
// configuration error (DESIGN.md open question 1).
func toSpec(e ValidatorEntry) (validator.Spec, error) {
	if e.Name == "" {
		return validator.Spec{}, apperr.New(apperr.ConfigurationError, "validator configuration is missing a name")
	}
	switch e.Type {
	case "notaryv1", "cosign", "static":
	default:
		return validator.Spec{}, apperr.New(apperr.ConfigurationError, "unknown validator type %q for %q", e.Type, e.Name)
	}

	spec := validator.Spec{
		Name:         e.Name,
		Type:         e.Type,
		Host:         e.Host,
		IsACR:        e.IsACR,
		Cert:         e.Cert,
		CosignBinary: e.CosignBinary,
		CosignPubKey: e.CosignKey,
		Approve:      e.Approve,
	}
	if e.Auth != nil {
		spec.Username = e.Auth.User
		spec.Password = e.Auth.Pass
	}

	defaultKeys := 0
	for _, k := range e.RootKeys {
		if k.Name == "default" {
			defaultKeys++
		}
		spec.RootKeys = append(spec.RootKeys, validator.RootKeySpec{
			Name: k.Name, KeyType: k.KeyType, KeyPEM: []byte(k.Key),
		})
	}
	if defaultKeys > 1 {
		return validator.Spec{}, apperr.New(apperr.ConfigurationError,
			"too many default keys in validator configuration %s", e.Name)
	}
	return spec, nil
}

// LoadPolicy reads a policy YAML file (spec.md section 6's
// rules: [{pattern, validator?, key?, delegations?, verify?}]) and
// compiles it.
func LoadPolicy(path string) (*policy.Policy, error) {
	var f policy.File
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	return policy.Compile(f)
}

func readYAML(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, err, "reading %s", path)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return apperr.Wrap(apperr.InvalidFormat, err, "parsing %s", path)
	}
	return nil
}

// NewHTTPClient builds the default *http.Client passed to
// validator.NewRegistry; a validator entry declaring its own "cert"
// gets a dedicated client built by validator.Build instead (see
// pkg/validator/registry.go).
func NewHTTPClient() *http.Client {
	return &http.Client{}
}

// EnvFlag reads a "1"/"0"-style boolean environment variable, as
// DETECTION_MODE is documented in spec.md section 6.
func EnvFlag(name string) bool {
	v := strings.TrimSpace(os.Getenv(name))
	return v == "1" || strings.EqualFold(v, "true")
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// Env bundles the environment-derived runtime settings spec.md
// section 6 lists (DETECTION_MODE, LOG_LEVEL, CONNAISSEUR_NAMESPACE,
// CONNAISSEUR_SENTINEL, CONNAISSEUR_WEBHOOK).
type Env struct {
	DetectionMode bool
	LogLevel      string
	Namespace     string
	Sentinel      string
	Webhook       string
}

// LoadEnv reads the process environment into an Env.
func LoadEnv() Env {
	return Env{
		DetectionMode: EnvFlag("DETECTION_MODE"),
		LogLevel:      envOr("LOG_LEVEL", "INFO"),
		Namespace:     envOr("CONNAISSEUR_NAMESPACE", "connaisseur"),
		Sentinel:      envOr("CONNAISSEUR_SENTINEL", "connaisseur-sentinel"),
		Webhook:       envOr("CONNAISSEUR_WEBHOOK", "connaisseur-webhook"),
	}
}
