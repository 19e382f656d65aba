package tuf

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	canonicaljson "github.com/docker/go/canonical/json"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/tufcrypto"
)

// Root is a fully parsed, role-tagged root.json document (C4).
type Root struct {
	Signed     SignedRoot  `json:"signed"`
	Signatures []Signature `json:"signatures"`
}

// Targets is a fully parsed targets.json or delegation document.
// RoleName is the role this document was fetched as ("targets" or
// "targets/<name>"), not part of the wire format.
type Targets struct {
	Signed     SignedTargets `json:"signed"`
	Signatures []Signature   `json:"signatures"`
	RoleName   string        `json:"-"`
}

// Snapshot is a fully parsed snapshot.json document.
type Snapshot struct {
	Signed     SignedSnapshot `json:"signed"`
	Signatures []Signature    `json:"signatures"`
}

// Timestamp is a fully parsed timestamp.json document.
type Timestamp struct {
	Signed     SignedTimestamp `json:"signed"`
	Signatures []Signature     `json:"signatures"`
}

// document is implemented by every role document and lets the shared
// validateSignature/validateExpiry/validateHash helpers below operate
// generically.
type document interface {
	role() string
	canonicalSignedBytes() ([]byte, error)
	signatures() []Signature
	expires() time.Time
}

func (r *Root) role() string      { return string(RoleRoot) }
func (t *Targets) role() string   { return t.RoleName }
func (s *Snapshot) role() string  { return string(RoleSnapshot) }
func (t *Timestamp) role() string { return string(RoleTimestamp) }

func (r *Root) signatures() []Signature      { return r.Signatures }
func (t *Targets) signatures() []Signature   { return t.Signatures }
func (s *Snapshot) signatures() []Signature  { return s.Signatures }
func (t *Timestamp) signatures() []Signature { return t.Signatures }

func (r *Root) expires() time.Time      { return r.Signed.Expires }
func (t *Targets) expires() time.Time   { return t.Signed.Expires }
func (s *Snapshot) expires() time.Time  { return s.Signed.Expires }
func (t *Timestamp) expires() time.Time { return t.Signed.Expires }

func (r *Root) canonicalSignedBytes() ([]byte, error) {
	return canonicaljson.MarshalCanonical(r.Signed)
}
func (t *Targets) canonicalSignedBytes() ([]byte, error) {
	return canonicaljson.MarshalCanonical(t.Signed)
}
func (s *Snapshot) canonicalSignedBytes() ([]byte, error) {
	return canonicaljson.MarshalCanonical(s.Signed)
}
func (t *Timestamp) canonicalSignedBytes() ([]byte, error) {
	return canonicaljson.MarshalCanonical(t.Signed)
}

// ValidateSignature collects the signatures on doc whose keyid belongs
// to keyStore's set for doc's role, verifies each against the
// canonical form of "signed" using its named method, and requires at
// least keyStore's threshold for that role to verify.
func validateSignature(doc document, keyStore *KeyStore) error {
	role := doc.role()
	trusted := keyStore.KeysFor(role)
	if len(trusted) == 0 {
		return apperr.New(apperr.InsufficientTrustData, "no trusted keys known for role %s", role)
	}

	canonical, err := doc.canonicalSignedBytes()
	if err != nil {
		return apperr.Wrap(apperr.InvalidFormat, err, "canonicalizing %s signed payload", role)
	}

	valid := map[string]bool{}
	for _, sig := range doc.signatures() {
		pub, ok := trusted[sig.KeyID]
		if !ok {
			continue
		}
		sigBytes, err := base64.StdEncoding.DecodeString(sig.Sig)
		if err != nil {
			continue
		}
		if err := tufcrypto.Verify(sig.Method, pub, canonical, sigBytes); err == nil {
			valid[sig.KeyID] = true
		}
	}

	threshold := keyStore.ThresholdFor(role)
	if len(valid) < threshold {
		return apperr.New(apperr.SignatureInvalid,
			"%s has %d valid signature(s), need %d", role, len(valid), threshold)
	}
	return nil
}

// ValidateExpiry fails if doc's expires timestamp is at or before now.
func validateExpiry(doc document, now time.Time) error {
	if !doc.expires().After(now) {
		return apperr.New(apperr.Expired, "%s expired at %s", doc.role(), doc.expires())
	}
	return nil
}

// validateHash fails if the hash of doc's canonical bytes does not
// match the entry recorded for doc's role in meta (the referencing
// document's declarations: snapshot's meta for root/targets, or
// timestamp's meta for snapshot).
func validateHash(doc document, meta map[string]FileMeta) error {
	fm, ok := meta[doc.role()]
	if !ok {
		return apperr.New(apperr.HashMismatch, "no hash declared for %s", doc.role())
	}
	wantHex, ok := fm.Hashes["sha256"]
	if !ok {
		return apperr.New(apperr.HashMismatch, "no sha256 hash declared for %s", doc.role())
	}
	canonical, err := doc.canonicalSignedBytes()
	if err != nil {
		return apperr.Wrap(apperr.InvalidFormat, err, "canonicalizing %s signed payload", doc.role())
	}
	gotHex := sha256Hex(canonical)
	if gotHex != wantHex {
		return apperr.New(apperr.HashMismatch, "%s hash mismatch: got %s, want %s", doc.role(), gotHex, wantHex)
	}
	return nil
}

// ValidateSignature, ValidateExpiry, ValidateHash and Validate are the
// public, role-specific entry points used by pkg/validator/notaryv1.

func (r *Root) ValidateSignature(ks *KeyStore) error { return validateSignature(r, ks) }
func (r *Root) ValidateExpiry() error                { return validateExpiry(r, time.Now()) }
func (r *Root) ValidateHash(meta map[string]FileMeta) error { return validateHash(r, meta) }
func (r *Root) Validate(ks *KeyStore) error {
	if err := r.ValidateSignature(ks); err != nil {
		return err
	}
	return r.ValidateExpiry()
}

func (t *Targets) ValidateSignature(ks *KeyStore) error { return validateSignature(t, ks) }
func (t *Targets) ValidateExpiry() error                { return validateExpiry(t, time.Now()) }
func (t *Targets) ValidateHash(meta map[string]FileMeta) error { return validateHash(t, meta) }
func (t *Targets) Validate(ks *KeyStore) error {
	if err := t.ValidateSignature(ks); err != nil {
		return err
	}
	return t.ValidateExpiry()
}

func (s *Snapshot) ValidateSignature(ks *KeyStore) error { return validateSignature(s, ks) }
func (s *Snapshot) ValidateExpiry() error                { return validateExpiry(s, time.Now()) }
func (s *Snapshot) ValidateHash(meta map[string]FileMeta) error { return validateHash(s, meta) }
func (s *Snapshot) Validate(ks *KeyStore) error {
	if err := s.ValidateSignature(ks); err != nil {
		return err
	}
	return s.ValidateExpiry()
}

func (t *Timestamp) ValidateSignature(ks *KeyStore) error { return validateSignature(t, ks) }
func (t *Timestamp) ValidateExpiry() error                { return validateExpiry(t, time.Now()) }
func (t *Timestamp) Validate(ks *KeyStore) error {
	if err := t.ValidateSignature(ks); err != nil {
		return err
	}
	return t.ValidateExpiry()
}

// LoadRoot installs role->key maps and thresholds from a root document
// that has already passed ValidateSignature/ValidateExpiry against a
// bootstrap KeyStore holding only the pinned root key. It also
// enforces the recommended (not required, see DESIGN.md) version
// rollback defense: a root whose version regresses relative to the
// KeyStore's previously recorded root version is rejected.
func (ks *KeyStore) LoadRoot(r *Root) error {
	if prev := ks.PreviousRootVersion(); prev != 0 && r.Signed.Version < prev {
		return apperr.New(apperr.VersionRollback,
			"root version %d is older than previously seen version %d", r.Signed.Version, prev)
	}

	for roleName, rk := range r.Signed.Roles {
		ks.setThreshold(roleName, rk.Threshold)
		for _, keyID := range rk.KeyIDs {
			key, ok := r.Signed.Keys[keyID]
			if !ok {
				continue
			}
			pub, err := tufcrypto.ParsePublicKey(key.KeyType, []byte(key.KeyVal.Public))
			if err != nil {
				return apperr.Wrap(apperr.InvalidFormat, err, "parsing key %s for role %s", keyID, roleName)
			}
			ks.addKey(roleName, keyID, key.KeyType, pub)
		}
	}
	ks.recordRootVersion(r.Signed.Version)
	return nil
}

// LoadRole installs the keys declared by a targets (or delegation)
// document's own Delegations section, under the delegation role
// names they authorize. This lets a KeyStore collect delegation keys
// incrementally as each level of the chain is validated.
func (ks *KeyStore) LoadRole(role string, keys map[string]Key, roleKeys RoleKeys) error {
	ks.setThreshold(role, roleKeys.Threshold)
	for _, keyID := range roleKeys.KeyIDs {
		key, ok := keys[keyID]
		if !ok {
			continue
		}
		pub, err := tufcrypto.ParsePublicKey(key.KeyType, []byte(key.KeyVal.Public))
		if err != nil {
			return apperr.Wrap(apperr.InvalidFormat, err, "parsing key %s for role %s", keyID, role)
		}
		ks.addKey(role, keyID, key.KeyType, pub)
	}
	return nil
}

// KeyID computes a TUF key id: the hex SHA-256 digest of the
// canonical JSON form of k, matching the notary/TUF convention used by
// _examples/other_examples/2f5aaf1a_kolide-updater__tuf-roles.go.go's
// keyfinder/keyed plumbing.
func KeyID(k Key) (string, error) {
	canonical, err := canonicaljson.MarshalCanonical(k)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

// Bootstrap locates, within r.Signed.Keys, the entry whose decoded
// public key material equals pinnedRootKeyPEM, and returns a KeyStore
// pre-seeded with that key, under its key id from that map, for role
// "root" at threshold 1 — the bootstrap step spec.md section 4.6 step
// 2 requires before root.signed itself can be signature-checked.
func Bootstrap(r *Root, keyType string, pinnedRootKeyPEM []byte) (*KeyStore, error) {
	pinnedPub, err := tufcrypto.ParsePublicKey(keyType, pinnedRootKeyPEM)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidFormat, err, "parsing pinned root key")
	}

	for keyID, key := range r.Signed.Keys {
		pub, err := tufcrypto.ParsePublicKey(key.KeyType, []byte(key.KeyVal.Public))
		if err != nil {
			continue
		}
		if !publicKeysEqual(pub, pinnedPub) {
			continue
		}
		ks := NewKeyStore()
		ks.addKey(string(RoleRoot), keyID, key.KeyType, pub)
		ks.setThreshold(string(RoleRoot), 1)
		return ks, nil
	}
	return nil, apperr.New(apperr.SignatureInvalid, "pinned root key not present in root.signed.keys")
}

// publicKeysEqual compares two crypto.PublicKey values for equality by
// re-marshaling them to DER/PKIX form, since the concrete key types
// (*ecdsa.PublicKey, *rsa.PublicKey, ed25519.PublicKey) don't all
// support ==.
func publicKeysEqual(a, b crypto.PublicKey) bool {
	da, errA := x509.MarshalPKIXPublicKey(a)
	db, errB := x509.MarshalPKIXPublicKey(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum[:])
}
