package repository

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	bldrerrors "bldr/internal/errors"
)

// ToolchainManifest describes one installed toolchain (a compiler, linker,
// or other build tool) advertised by a worker or resolved by name from a
// toolchain registry. Digest is the tool-digest referenced by an action
// fingerprint and by toolchain-ref constraints.
type ToolchainManifest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Digest       string   `json:"digest"`
	Platform     string   `json:"platform"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ParseToolchainManifest decodes a manifest and rejects one missing its
// identifying fields.
func ParseToolchainManifest(data []byte) (ToolchainManifest, error) {
	var m ToolchainManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return ToolchainManifest{}, bldrerrors.Wrap(err, bldrerrors.CodeConfigInvalid, "parsing toolchain manifest")
	}
	if m.Name == "" || m.Version == "" || m.Digest == "" {
		return ToolchainManifest{}, bldrerrors.New(bldrerrors.CodeConfigInvalid, "toolchain manifest requires name, version, and digest")
	}
	return m, nil
}

// ManifestSignature is a detached signature over a toolchain manifest,
// binding a publisher's key to the exact bytes a worker installed.
type ManifestSignature struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	Signature string `json:"signature"`
}

// VerifyManifestSignature checks sig against the raw manifest bytes using a
// trusted-key table keyed by KeyID (base64-encoded ed25519 public keys).
func VerifyManifestSignature(manifestBytes []byte, sig ManifestSignature, trustedKeys map[string]string) error {
	if sig.KeyID == "" || sig.Signature == "" {
		return bldrerrors.New(bldrerrors.CodeConfigInvalid, "manifest signature requires key_id and signature")
	}
	if sig.Algorithm != "" && sig.Algorithm != "ed25519" {
		return bldrerrors.Newf(bldrerrors.CodeConfigInvalid, "unsupported manifest signature algorithm: %s", sig.Algorithm)
	}
	keyB64, ok := trustedKeys[sig.KeyID]
	if !ok {
		return bldrerrors.Newf(bldrerrors.CodeConfigInvalid, "unknown manifest signing key: %s", sig.KeyID)
	}
	pubKey, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return bldrerrors.Wrap(err, bldrerrors.CodeConfigInvalid, "decoding trusted public key")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return bldrerrors.Wrap(err, bldrerrors.CodeConfigInvalid, "decoding manifest signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), manifestBytes, sigBytes) {
		return bldrerrors.New(bldrerrors.CodeConfigInvalid, "manifest signature verification failed")
	}
	return nil
}

// ResolveToolchain picks the highest installed manifest satisfying ref
// against the given constraint string (see satisfiesConstraint).
func ResolveToolchain(installed []ToolchainManifest, name, constraint string) (ToolchainManifest, bool) {
	var candidates []string
	byVersion := make(map[string]ToolchainManifest, len(installed))
	for _, m := range installed {
		if m.Name != name {
			continue
		}
		candidates = append(candidates, m.Version)
		byVersion[m.Version] = m
	}
	best := highestSatisfying(candidates, constraint)
	if best == "" {
		return ToolchainManifest{}, false
	}
	return byVersion[best], true
}
