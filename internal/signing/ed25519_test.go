package signing_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bldr/internal/signing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := signing.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() unexpected error: %v", err)
	}
	if kp.PublicKey == "" {
		t.Error("expected non-empty public key")
	}
	if len(kp.PublicKey) != 64 { // 32 bytes hex-encoded
		t.Errorf("expected 64-char hex public key, got %d chars", len(kp.PublicKey))
	}
}

func TestSignAndVerify(t *testing.T) {
	kp, err := signing.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	sig, err := kp.Sign("run-test-001", "deadbeef1234567890abcdef")
	if err != nil {
		t.Fatalf("Sign() unexpected error: %v", err)
	}

	if sig.RunID != "run-test-001" {
		t.Errorf("expected RunID 'run-test-001', got %q", sig.RunID)
	}
	if sig.Algorithm != signing.AlgorithmEd25519 {
		t.Errorf("expected algorithm %q, got %q", signing.AlgorithmEd25519, sig.Algorithm)
	}
	if sig.SignatureHex == "" {
		t.Error("expected non-empty signature hex")
	}

	// Verify should succeed
	if err := signing.Verify(sig); err != nil {
		t.Errorf("Verify() unexpected error: %v", err)
	}
}

func TestVerify_TamperedProofHash(t *testing.T) {
	kp, _ := signing.GenerateKeyPair()
	sig, _ := kp.Sign("run-tamper", "original-hash")
	sig.ProofHash = "tampered-hash"

	err := signing.Verify(sig)
	if err == nil {
		t.Error("expected Verify() to fail for tampered proof hash")
	}
	if !strings.Contains(err.Error(), "verification failed") {
		t.Errorf("expected 'verification failed' in error, got: %v", err)
	}
}

func TestVerify_TamperedRunID(t *testing.T) {
	kp, _ := signing.GenerateKeyPair()
	sig, _ := kp.Sign("run-tamper", "original-hash")
	sig.RunID = "run-different"

	err := signing.Verify(sig)
	if err == nil {
		t.Error("expected Verify() to fail for tampered RunID")
	}
}

func TestVerify_NilSignature(t *testing.T) {
	err := signing.Verify(nil)
	if err == nil {
		t.Error("expected error for nil signature")
	}
}

func TestVerify_EmptyFields(t *testing.T) {
	err := signing.Verify(&signing.Signature{})
	if err == nil {
		t.Error("expected error for empty signature fields")
	}
}

func TestPublicKeyOnly_CanVerify(t *testing.T) {
	kp, _ := signing.GenerateKeyPair()
	sig, _ := kp.Sign("run-pubonly", "abcdef123")

	pub, err := signing.PublicKeyOnly(kp.PublicKey)
	if err != nil {
		t.Fatalf("PublicKeyOnly() failed: %v", err)
	}

	// Verify reads the key embedded in the sig; pin it to the public-only key.
	sig.PublicKey = pub.PublicKey
	if err := signing.Verify(sig); err != nil {
		t.Errorf("Verify with public key only failed: %v", err)
	}
}

func TestLoadOrCreateKeyPair(t *testing.T) {
	dir := t.TempDir()

	// First call: creates keys
	kp1, err := signing.LoadOrCreateKeyPair(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateKeyPair() first call failed: %v", err)
	}

	// Second call: loads existing keys
	kp2, err := signing.LoadOrCreateKeyPair(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateKeyPair() second call failed: %v", err)
	}

	if kp1.PublicKey != kp2.PublicKey {
		t.Error("loaded public key should match generated one")
	}
}

func TestSaveAndLoadSignature(t *testing.T) {
	dir := t.TempDir()
	kp, _ := signing.GenerateKeyPair()
	sig, _ := kp.Sign("run-save-test", "abc123hash")

	path, err := signing.SaveSignature(sig, dir)
	if err != nil {
		t.Fatalf("SaveSignature() failed: %v", err)
	}

	loaded, err := signing.LoadSignature(path)
	if err != nil {
		t.Fatalf("LoadSignature() failed: %v", err)
	}

	if loaded.RunID != sig.RunID {
		t.Errorf("expected RunID %q, got %q", sig.RunID, loaded.RunID)
	}
	if loaded.SignatureHex != sig.SignatureHex {
		t.Error("signature hex mismatch after load")
	}

	// Verify the loaded signature
	if err := signing.Verify(loaded); err != nil {
		t.Errorf("Verify() on loaded signature failed: %v", err)
	}
}

func TestSaveSignature_SanitizesRunID(t *testing.T) {
	dir := t.TempDir()
	kp, _ := signing.GenerateKeyPair()
	sig, _ := kp.Sign("run/with/slashes", "abc123")

	path, err := signing.SaveSignature(sig, dir)
	if err != nil {
		t.Fatalf("SaveSignature() failed: %v", err)
	}

	// File should exist (name should not contain raw slashes)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("signature file not found at %q", path)
	}

	// File should be inside the target directory
	rel, _ := filepath.Rel(dir, path)
	if strings.Contains(rel, "..") {
		t.Errorf("signature file path escaped target dir: %q", path)
	}
}

func TestLoadKeyPairFromEnv(t *testing.T) {
	dir := t.TempDir()
	kp, err := signing.LoadOrCreateKeyPair(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateKeyPair() failed: %v", err)
	}
	seed, err := os.ReadFile(filepath.Join(dir, "build_signing.key"))
	if err != nil {
		t.Fatalf("reading key file failed: %v", err)
	}
	t.Setenv("BUILD_SIGNING_KEY", strings.TrimSpace(string(seed)))

	loaded, err := signing.LoadKeyPairFromEnv()
	if err != nil {
		t.Fatalf("LoadKeyPairFromEnv() failed: %v", err)
	}
	if loaded.PublicKey != kp.PublicKey {
		t.Error("key loaded from env should match the saved keypair")
	}

	sig, _ := loaded.Sign("env-test", "someproof")
	if err := signing.Verify(sig); err != nil {
		t.Errorf("key round-trip verification failed: %v", err)
	}
}

func TestSign_EmptyRunID_Error(t *testing.T) {
	kp, _ := signing.GenerateKeyPair()
	_, err := kp.Sign("", "somehash")
	if err == nil {
		t.Error("expected error for empty runID")
	}
}

func TestSign_EmptyProofHash_Error(t *testing.T) {
	kp, _ := signing.GenerateKeyPair()
	_, err := kp.Sign("run-001", "")
	if err == nil {
		t.Error("expected error for empty proofHash")
	}
}

func TestSignedAt_IsEpochAnchor(t *testing.T) {
	kp, _ := signing.GenerateKeyPair()
	sig, _ := kp.Sign("run-epoch", "proof123")
	if sig.SignedAt != "0000-00-00T00:00:00Z" {
		t.Errorf("expected epoch anchor signed_at, got %q", sig.SignedAt)
	}
}
