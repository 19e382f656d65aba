// Package tuf implements the TUF trust-data model (C4) and the
// per-validation key store (C3) that the notaryv1 validator drives
// through the chain-of-trust algorithm of spec.md section 4.6.
//
// The document shapes below are grounded on
// _examples/other_examples/2f5aaf1a_kolide-updater__tuf-roles.go.go,
// adapted to the exact hash/threshold/delegation rules spec.md
// section 3 describes.
package tuf

import "time"

// Role names a TUF role: root, snapshot, timestamp, targets, or a
// delegation "targets/<name>".
type Role string

const (
	RoleRoot      Role = "root"
	RoleSnapshot  Role = "snapshot"
	RoleTimestamp Role = "timestamp"
	RoleTargets   Role = "targets"
)

// IsDelegation reports whether r names a delegation role.
func (r Role) IsDelegation() bool {
	return len(r) > len("targets/") && string(r[:len("targets/")]) == "targets/"
}

// KeyID identifies a public key within a KeyStore.
type KeyID string

// Key is a single TUF public key as it appears in a root or targets
// document's "keys" map.
type Key struct {
	KeyType string `json:"keytype"`
	Scheme  string `json:"scheme,omitempty"`
	KeyVal  struct {
		// Public holds the PEM-encoded public key (or certificate, for
		// the "-x509" keytypes). tufcrypto.ParsePublicKey decodes it.
		Public string `json:"public"`
	} `json:"keyval"`
}

// RoleKeys maps a role name to its authorized key IDs and signing
// threshold, as declared in root.signed.roles.
type RoleKeys struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

// Signature is one entry in a document's top-level "signatures" list.
type Signature struct {
	KeyID  string `json:"keyid"`
	Method string `json:"method"`
	Sig    string `json:"sig"`
}

// FileMeta records the hash(es) and length of a referenced metadata
// file or target, as used in snapshot.signed.meta, timestamp's meta,
// and targets.signed.targets.
type FileMeta struct {
	Length int64             `json:"length,omitempty"`
	Hashes map[string]string `json:"hashes"`
}

// DelegationRole is one entry in targets.signed.delegations.roles.
type DelegationRole struct {
	Name      string   `json:"name"`
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
	Paths     []string `json:"paths,omitempty"`
}

// Delegations is targets.signed.delegations.
type Delegations struct {
	Keys  map[string]Key   `json:"keys"`
	Roles []DelegationRole `json:"roles"`
}

// SignedRoot is root.json's "signed" object.
type SignedRoot struct {
	Type    string              `json:"_type"`
	Version int                 `json:"version"`
	Expires time.Time           `json:"expires"`
	Keys    map[string]Key      `json:"keys"`
	Roles   map[string]RoleKeys `json:"roles"`
}

// SignedTargets is targets.json's (and every delegation's) "signed"
// object.
type SignedTargets struct {
	Type        string              `json:"_type"`
	Version     int                 `json:"version"`
	Expires     time.Time           `json:"expires"`
	Targets     map[string]FileMeta `json:"targets"`
	Delegations *Delegations        `json:"delegations,omitempty"`
}

// SignedSnapshot is snapshot.json's "signed" object.
type SignedSnapshot struct {
	Type    string              `json:"_type"`
	Version int                 `json:"version"`
	Expires time.Time           `json:"expires"`
	Meta    map[string]FileMeta `json:"meta"`
}

// SignedTimestamp is timestamp.json's "signed" object.
type SignedTimestamp struct {
	Type    string              `json:"_type"`
	Version int                 `json:"version"`
	Expires time.Time           `json:"expires"`
	Meta    map[string]FileMeta `json:"meta"`
}
