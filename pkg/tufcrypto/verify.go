// Package tufcrypto implements the cryptographic primitives (C2):
// ECDSA/RSA/Ed25519 signature verification over canonical JSON.
package tufcrypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
)

// Method names as they appear in a TUF Signature's "method" field.
const (
	MethodECDSA   = "ecdsa"
	MethodRSA     = "rsa"
	MethodRSAPSS  = "rsassa-pss-sha256"
	MethodEd25519 = "ed25519"
)

// KeyType names as they appear in a TUF Key's "keytype" field.
const (
	KeyTypeECDSA     = "ecdsa"
	KeyTypeECDSAx509 = "ecdsa-x509"
	KeyTypeRSA       = "rsa"
	KeyTypeRSAx509   = "rsa-x509"
	KeyTypeEd25519   = "ed25519"
)

// ParsePublicKey decodes raw into a crypto.PublicKey. raw may be a PEM
// block (possibly wrapping an x509 certificate for the "-x509"
// keytypes) or a bare DER-encoded SPKI key.
func ParsePublicKey(keyType string, raw []byte) (crypto.PublicKey, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}

	switch keyType {
	case KeyTypeECDSAx509, KeyTypeRSAx509:
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parsing %s certificate: %w", keyType, err)
		}
		return cert.PublicKey, nil
	default:
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing %s public key: %w", keyType, err)
		}
		return pub, nil
	}
}

// Verify checks signature against canonicalBytes under pub, using the
// signing method named by method. base64-decoding of signature is the
// caller's responsibility; signature is the raw signature bytes.
func Verify(method string, pub crypto.PublicKey, canonicalBytes, signature []byte) error {
	switch method {
	case MethodECDSA:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("key is not an ECDSA public key")
		}
		digest := sha256.Sum256(canonicalBytes)
		if !verifyECDSA(key, digest[:], signature) {
			return fmt.Errorf("ecdsa signature verification failed")
		}
		return nil
	case MethodRSA, MethodRSAPSS:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("key is not an RSA public key")
		}
		digest := sha256.Sum256(canonicalBytes)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}
		if err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, opts); err != nil {
			return fmt.Errorf("rsa-pss signature verification failed: %w", err)
		}
		return nil
	case MethodEd25519:
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("key is not an Ed25519 public key")
		}
		if !ed25519.Verify(key, canonicalBytes, signature) {
			return fmt.Errorf("ed25519 signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported signing method %q", method)
	}
}

// verifyECDSA supports both ASN.1 DER and raw r||s encodings, since
// different TUF implementations emit either.
func verifyECDSA(key *ecdsa.PublicKey, digest, sig []byte) bool {
	if ecdsa.VerifyASN1(key, digest, sig) {
		return true
	}
	if len(sig)%2 != 0 {
		return false
	}
	half := len(sig) / 2
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])
	return ecdsa.Verify(key, digest, r, s)
}
