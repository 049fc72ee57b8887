package repository

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

func TestParseToolchainManifestRequiresFields(t *testing.T) {
	if _, err := ParseToolchainManifest([]byte(`{"name":"gcc"}`)); err == nil {
		t.Error("expected missing version/digest to fail")
	}
	m, err := ParseToolchainManifest([]byte(`{"name":"gcc","version":"12.2.0","digest":"abc123"}`))
	if err != nil {
		t.Fatalf("ParseToolchainManifest: %v", err)
	}
	if m.Name != "gcc" || m.Version != "12.2.0" {
		t.Errorf("unexpected manifest: %+v", m)
	}
}

func TestResolveToolchainPicksHighestSatisfying(t *testing.T) {
	installed := []ToolchainManifest{
		{Name: "gcc", Version: "11.0.0", Digest: "d1"},
		{Name: "gcc", Version: "12.2.0", Digest: "d2"},
		{Name: "clang", Version: "15.0.0", Digest: "d3"},
	}
	got, ok := ResolveToolchain(installed, "gcc", ">=11.0.0")
	if !ok || got.Version != "12.2.0" {
		t.Fatalf("expected gcc 12.2.0, got %+v ok=%v", got, ok)
	}
	if _, ok := ResolveToolchain(installed, "gcc", ">=13.0.0"); ok {
		t.Error("expected no match above installed versions")
	}
	if _, ok := ResolveToolchain(installed, "rustc", ""); ok {
		t.Error("expected no match for an uninstalled toolchain")
	}
}

func TestVerifyManifestSignatureRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	manifestBytes := []byte(`{"name":"gcc","version":"12.2.0","digest":"abc"}`)
	sigBytes := ed25519.Sign(priv, manifestBytes)

	sig := ManifestSignature{
		KeyID:     "publisher-1",
		Algorithm: "ed25519",
		Signature: base64.StdEncoding.EncodeToString(sigBytes),
	}
	trusted := map[string]string{"publisher-1": base64.StdEncoding.EncodeToString(pub)}

	if err := VerifyManifestSignature(manifestBytes, sig, trusted); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}

	tampered := append([]byte{}, manifestBytes...)
	tampered[0] = 'X'
	if err := VerifyManifestSignature(tampered, sig, trusted); err == nil {
		t.Error("expected tampered manifest to fail verification")
	}
}

func TestVerifyManifestSignatureRejectsUnknownKey(t *testing.T) {
	sig := ManifestSignature{KeyID: "ghost", Algorithm: "ed25519", Signature: "AA=="}
	if err := VerifyManifestSignature([]byte("{}"), sig, map[string]string{}); err == nil {
		t.Error("expected unknown key id to fail")
	}
}
