package transport

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// Signature guard errors
var (
	ErrSignatureMissing   = errors.New("signature missing")
	ErrSignatureMalformed = errors.New("signature malformed")
	ErrSignatureInvalid   = errors.New("signature verification failed")
)

// ParsePublicKey loads a PEM-encoded Ed25519 public key.
func ParsePublicKey(pemData string) (ed25519.PublicKey, error) {
	if pemData == "" {
		return nil, fmt.Errorf("%w: public key missing", ErrSignatureMalformed)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: not PEM encoded", ErrSignatureMalformed)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMalformed, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 key", ErrSignatureMalformed)
	}
	return pub, nil
}

// ParsePrivateKey loads a PEM-encoded Ed25519 private key.
func ParsePrivateKey(pemData string) (ed25519.PrivateKey, error) {
	if pemData == "" {
		return nil, fmt.Errorf("%w: private key missing", ErrSignatureMalformed)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: not PEM encoded", ErrSignatureMalformed)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMalformed, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 key", ErrSignatureMalformed)
	}
	return priv, nil
}

// Verify checks a base64 Ed25519 signature over the canonical JSON bytes of
// payload against the PEM public key.
func Verify(payload interface{}, signatureB64, publicKeyPEM string) error {
	if signatureB64 == "" {
		return ErrSignatureMissing
	}
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", ErrSignatureMalformed)
	}
	msg, err := Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMalformed, err)
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns a base64 Ed25519 signature over the canonical JSON bytes of
// payload. Used by tests and by operators seeding signed envelopes.
func Sign(payload interface{}, privateKeyPEM string) (string, error) {
	priv, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	msg, err := Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg)), nil
}
