package tuf

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	canonicaljson "github.com/docker/go/canonical/json"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/tufcrypto"
)

type testKey struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	pem  []byte
	key  Key
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	k := Key{KeyType: tufcrypto.KeyTypeEd25519}
	k.KeyVal.Public = string(pemBytes)
	return testKey{pub: pub, priv: priv, pem: pemBytes, key: k}
}

func sign(t *testing.T, priv ed25519.PrivateKey, keyID string, signed interface{}) Signature {
	t.Helper()
	canonical, err := canonicaljson.MarshalCanonical(signed)
	if err != nil {
		t.Fatal(err)
	}
	sig := ed25519.Sign(priv, canonical)
	return Signature{
		KeyID:  keyID,
		Method: tufcrypto.MethodEd25519,
		Sig:    base64.StdEncoding.EncodeToString(sig),
	}
}

func TestChainFixtureHappyPath(t *testing.T) {
	rootKey := newTestKey(t)
	rootKeyID, err := KeyID(rootKey.key)
	if err != nil {
		t.Fatal(err)
	}

	signedRoot := SignedRoot{
		Type:    "root",
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Keys:    map[string]Key{rootKeyID: rootKey.key},
		Roles: map[string]RoleKeys{
			"root":      {KeyIDs: []string{rootKeyID}, Threshold: 1},
			"targets":   {KeyIDs: []string{rootKeyID}, Threshold: 1},
			"snapshot":  {KeyIDs: []string{rootKeyID}, Threshold: 1},
			"timestamp": {KeyIDs: []string{rootKeyID}, Threshold: 1},
		},
	}
	root := &Root{Signed: signedRoot}
	root.Signatures = []Signature{sign(t, rootKey.priv, rootKeyID, signedRoot)}

	ks, err := Bootstrap(root, tufcrypto.KeyTypeEd25519, rootKey.pem)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := root.ValidateSignature(ks); err != nil {
		t.Fatalf("root ValidateSignature: %v", err)
	}
	if err := root.ValidateExpiry(); err != nil {
		t.Fatalf("root ValidateExpiry: %v", err)
	}
	if err := ks.LoadRoot(root); err != nil {
		t.Fatalf("LoadRoot: %v", err)
	}

	signedTargets := SignedTargets{
		Type:    "targets",
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Targets: map[string]FileMeta{
			"test": {Hashes: map[string]string{"sha256": base64.StdEncoding.EncodeToString(mustHex("ac904c9b191d14faf54b7952f2650a4bb21c201bf34131388b851e8ce992a65"))}},
		},
	}
	targets := &Targets{Signed: signedTargets, RoleName: "targets"}
	targets.Signatures = []Signature{sign(t, rootKey.priv, rootKeyID, signedTargets)}
	if err := targets.Validate(ks); err != nil {
		t.Fatalf("targets Validate: %v", err)
	}

	targetsBytes, err := targets.canonicalSignedBytes()
	if err != nil {
		t.Fatal(err)
	}

	signedSnapshot := SignedSnapshot{
		Type:    "snapshot",
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Meta: map[string]FileMeta{
			"root":    {Hashes: map[string]string{"sha256": sha256Hex(mustCanonical(t, signedRoot))}},
			"targets": {Hashes: map[string]string{"sha256": sha256Hex(targetsBytes)}},
		},
	}
	snapshot := &Snapshot{Signed: signedSnapshot}
	snapshot.Signatures = []Signature{sign(t, rootKey.priv, rootKeyID, signedSnapshot)}

	if err := snapshot.ValidateSignature(ks); err != nil {
		t.Fatalf("snapshot ValidateSignature: %v", err)
	}
	if err := snapshot.ValidateExpiry(); err != nil {
		t.Fatalf("snapshot ValidateExpiry: %v", err)
	}
	if err := root.ValidateHash(signedSnapshot.Meta); err != nil {
		t.Fatalf("root ValidateHash: %v", err)
	}
	if err := targets.ValidateHash(signedSnapshot.Meta); err != nil {
		t.Fatalf("targets ValidateHash: %v", err)
	}

	signedTimestamp := SignedTimestamp{
		Type:    "timestamp",
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Meta: map[string]FileMeta{
			"snapshot": {Hashes: map[string]string{"sha256": sha256Hex(mustCanonical(t, signedSnapshot))}},
		},
	}
	timestamp := &Timestamp{Signed: signedTimestamp}
	timestamp.Signatures = []Signature{sign(t, rootKey.priv, rootKeyID, signedTimestamp)}

	if err := timestamp.Validate(ks); err != nil {
		t.Fatalf("timestamp Validate: %v", err)
	}
	if err := snapshot.ValidateHash(signedTimestamp.Meta); err != nil {
		t.Fatalf("snapshot ValidateHash against timestamp: %v", err)
	}
}

func TestSignatureTamperFails(t *testing.T) {
	rootKey := newTestKey(t)
	rootKeyID, _ := KeyID(rootKey.key)
	signedRoot := SignedRoot{
		Type: "root", Version: 1, Expires: time.Now().Add(24 * time.Hour),
		Keys:  map[string]Key{rootKeyID: rootKey.key},
		Roles: map[string]RoleKeys{"root": {KeyIDs: []string{rootKeyID}, Threshold: 1}},
	}
	root := &Root{Signed: signedRoot}
	root.Signatures = []Signature{sign(t, rootKey.priv, rootKeyID, signedRoot)}

	ks, err := Bootstrap(root, tufcrypto.KeyTypeEd25519, rootKey.pem)
	if err != nil {
		t.Fatal(err)
	}

	// Tamper with a single byte of the signed payload.
	root.Signed.Version = 2
	err = root.ValidateSignature(ks)
	if !apperr.Is(err, apperr.SignatureInvalid) {
		t.Fatalf("expected SignatureInvalid, got %v", err)
	}
}

func TestExpiryFails(t *testing.T) {
	rootKey := newTestKey(t)
	rootKeyID, _ := KeyID(rootKey.key)
	signedRoot := SignedRoot{
		Type: "root", Version: 1, Expires: time.Now().Add(-time.Hour),
		Keys:  map[string]Key{rootKeyID: rootKey.key},
		Roles: map[string]RoleKeys{"root": {KeyIDs: []string{rootKeyID}, Threshold: 1}},
	}
	root := &Root{Signed: signedRoot}
	root.Signatures = []Signature{sign(t, rootKey.priv, rootKeyID, signedRoot)}

	err := root.ValidateExpiry()
	if !apperr.Is(err, apperr.Expired) {
		t.Fatalf("expected Expired, got %v", err)
	}
}

func TestHashMismatchFails(t *testing.T) {
	rootKey := newTestKey(t)
	rootKeyID, _ := KeyID(rootKey.key)
	signedRoot := SignedRoot{Type: "root", Version: 1, Expires: time.Now().Add(time.Hour)}
	root := &Root{Signed: signedRoot}
	meta := map[string]FileMeta{"root": {Hashes: map[string]string{"sha256": "deadbeef"}}}
	err := root.ValidateHash(meta)
	if !apperr.Is(err, apperr.HashMismatch) {
		t.Fatalf("expected HashMismatch, got %v", err)
	}
	_ = rootKeyID
}

func mustCanonical(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := canonicaljson.MarshalCanonical(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func mustHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := 0; i < len(b); i++ {
		var v byte
		for j := 0; j < 2; j++ {
			c := s[i*2+j]
			v <<= 4
			switch {
			case c >= '0' && c <= '9':
				v |= c - '0'
			case c >= 'a' && c <= 'f':
				v |= c - 'a' + 10
			}
		}
		b[i] = v
	}
	return b
}
