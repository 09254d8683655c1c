package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"testing"
)

// testKeyPair generates an Ed25519 key pair as PEM strings
func testKeyPair(t *testing.T) (pubPEM, privPEM string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private: %v", err)
	}
	pubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	privPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	return pubPEM, privPEM
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pubPEM, privPEM := testKeyPair(t)

	payload := map[string]interface{}{
		"brand_agent_id": "acme",
		"pricing":        map[string]interface{}{"cpc": 2.5},
	}

	sig, err := Sign(payload, privPEM)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(payload, sig, pubPEM); err != nil {
		t.Errorf("verify: %v", err)
	}

	// Key order must not matter
	permuted := map[string]interface{}{
		"pricing":        map[string]interface{}{"cpc": 2.5},
		"brand_agent_id": "acme",
	}
	if err := Verify(permuted, sig, pubPEM); err != nil {
		t.Errorf("verify permuted payload: %v", err)
	}
}

func TestVerifyRejectsMutatedPayload(t *testing.T) {
	pubPEM, privPEM := testKeyPair(t)

	payload := map[string]interface{}{"price": 2.5}
	sig, err := Sign(payload, privPEM)
	if err != nil {
		t.Fatal(err)
	}

	mutated := map[string]interface{}{"price": 2.51}
	if err := Verify(mutated, sig, pubPEM); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyRejectsMutatedSignature(t *testing.T) {
	pubPEM, privPEM := testKeyPair(t)

	payload := map[string]interface{}{"price": 2.5}
	sig, err := Sign(payload, privPEM)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] ^= 0x01
	flipped := base64.StdEncoding.EncodeToString(raw)
	if err := Verify(payload, flipped, pubPEM); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyErrorKinds(t *testing.T) {
	pubPEM, _ := testKeyPair(t)

	if err := Verify(map[string]interface{}{}, "", pubPEM); !errors.Is(err, ErrSignatureMissing) {
		t.Errorf("expected ErrSignatureMissing, got %v", err)
	}
	if err := Verify(map[string]interface{}{}, "!!not-base64!!", pubPEM); !errors.Is(err, ErrSignatureMalformed) {
		t.Errorf("expected ErrSignatureMalformed for bad base64, got %v", err)
	}
	if err := Verify(map[string]interface{}{}, "AAAA", "not a pem"); !errors.Is(err, ErrSignatureMalformed) {
		t.Errorf("expected ErrSignatureMalformed for bad key, got %v", err)
	}
}
