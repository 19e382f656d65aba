package tuf

import "crypto"

// KeyStore is an in-memory mapping of role name to the set of trusted
// public keys and the signing threshold for that role (C3). A
// KeyStore is created per image validation and discarded afterwards;
// it is never shared across requests or across image validations
// within a request.
type KeyStore struct {
	keys       map[string]map[string]crypto.PublicKey // role -> keyid -> key
	keyTypes   map[string]map[string]string           // role -> keyid -> keytype
	thresholds map[string]int
	rootVer    int // previous root version, for rollback detection; 0 if unset
}

// NewKeyStore returns an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys:       map[string]map[string]crypto.PublicKey{},
		keyTypes:   map[string]map[string]string{},
		thresholds: map[string]int{},
	}
}

// addKey installs key under role/keyID, recording its TUF keytype
// alongside the parsed crypto.PublicKey so Verify can pick the right
// signing method.
func (ks *KeyStore) addKey(role, keyID, keyType string, key crypto.PublicKey) {
	if ks.keys[role] == nil {
		ks.keys[role] = map[string]crypto.PublicKey{}
		ks.keyTypes[role] = map[string]string{}
	}
	ks.keys[role][keyID] = key
	ks.keyTypes[role][keyID] = keyType
}

// setThreshold records the signing threshold required for role.
func (ks *KeyStore) setThreshold(role string, threshold int) {
	ks.thresholds[role] = threshold
}

// KeysFor returns the keyid -> public key map trusted for role.
func (ks *KeyStore) KeysFor(role string) map[string]crypto.PublicKey {
	return ks.keys[role]
}

// KeyTypeFor returns the TUF keytype of keyID under role.
func (ks *KeyStore) KeyTypeFor(role, keyID string) (string, bool) {
	m, ok := ks.keyTypes[role]
	if !ok {
		return "", false
	}
	t, ok := m[keyID]
	return t, ok
}

// ThresholdFor returns the signing threshold required for role. A role
// with no recorded threshold defaults to 1.
func (ks *KeyStore) ThresholdFor(role string) int {
	if t, ok := ks.thresholds[role]; ok && t > 0 {
		return t
	}
	return 1
}

// PreviousRootVersion returns the version of the root document this
// KeyStore was last bootstrapped from, or 0 if none.
func (ks *KeyStore) PreviousRootVersion() int { return ks.rootVer }

// recordRootVersion is called once the root document has been fully
// validated, to support version-rollback detection across successive
// root rotations (spec.md section 9, open question 2).
func (ks *KeyStore) recordRootVersion(v int) { ks.rootVer = v }
