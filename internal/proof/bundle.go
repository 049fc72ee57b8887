// Package proof exports and verifies standalone run-proof bundles: JSON
// documents that let a third party confirm what an action produced without
// access to the cache or the original build tree.
package proof

import (
	"encoding/json"
	"io"
	"sort"

	"bldr/internal/digest"
	"bldr/internal/errors"
	"bldr/internal/signing"
)

// Version is the current bundle schema version.
const Version = "1"

// Step identifies a stage of bundle verification.
type Step int

const (
	StepSchema Step = iota
	StepHash
	StepSignature
)

func (s Step) String() string {
	switch s {
	case StepSchema:
		return "schema"
	case StepHash:
		return "hash"
	case StepSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// ArtifactDigest names one input or output artifact by content digest.
type ArtifactDigest struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// Bundle is a self-contained, independently verifiable record of one
// action's execution: its fingerprint, the digests of everything it read
// and produced, and an optional signature binding the two together.
type Bundle struct {
	Version           string           `json:"version"`
	RunID             string           `json:"run_id"`
	ActionFingerprint string           `json:"action_fingerprint"`
	ToolDigest        string           `json:"tool_digest,omitempty"`
	Platform          string           `json:"platform"`
	InputDigests      []ArtifactDigest `json:"input_digests"`
	OutputDigests     []ArtifactDigest `json:"output_digests"`
	CreatedAt         string           `json:"created_at"`
	BundleHash        string           `json:"bundle_hash"`
	Signature         *signing.Signature `json:"signature,omitempty"`
}

// ExportOptions supplies the fields needed to build a Bundle. CreatedAt must
// be caller-supplied (never time.Now()) so bundles stay reproducible.
type ExportOptions struct {
	RunID             string
	ActionFingerprint string
	ToolDigest        string
	Platform          string
	InputDigests      []ArtifactDigest
	OutputDigests     []ArtifactDigest
	CreatedAt         string
}

// Export builds a Bundle and computes its content hash. The returned bundle
// has no signature; call Sign to attach one.
func Export(opts ExportOptions) (*Bundle, error) {
	if opts.RunID == "" {
		return nil, errors.New(errors.CodeProofSchemaInvalid, "run_id is required")
	}
	if opts.ActionFingerprint == "" {
		return nil, errors.New(errors.CodeProofSchemaInvalid, "action_fingerprint is required")
	}
	if opts.CreatedAt == "" {
		return nil, errors.New(errors.CodeProofSchemaInvalid, "created_at is required")
	}
	if _, err := digest.Parse(opts.ActionFingerprint); err != nil {
		return nil, errors.Wrap(err, errors.CodeProofSchemaInvalid, "action_fingerprint must be a valid digest")
	}

	inputs := sortedCopy(opts.InputDigests)
	outputs := sortedCopy(opts.OutputDigests)
	for _, d := range append(append([]ArtifactDigest{}, inputs...), outputs...) {
		if _, err := digest.Parse(d.Digest); err != nil {
			return nil, errors.Wrapf(err, errors.CodeProofSchemaInvalid, "invalid digest for %q", d.Path)
		}
	}

	bundle := &Bundle{
		Version:           Version,
		RunID:             opts.RunID,
		ActionFingerprint: opts.ActionFingerprint,
		ToolDigest:        opts.ToolDigest,
		Platform:          opts.Platform,
		InputDigests:      inputs,
		OutputDigests:     outputs,
		CreatedAt:         opts.CreatedAt,
	}
	hash, err := computeHash(bundle)
	if err != nil {
		return nil, err
	}
	bundle.BundleHash = hash
	return bundle, nil
}

func sortedCopy(in []ArtifactDigest) []ArtifactDigest {
	out := make([]ArtifactDigest, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// CanonicalJSON returns the bundle's JSON encoding with the bundle hash and
// signature cleared, the form over which the hash and signature are computed.
func CanonicalJSON(b *Bundle) ([]byte, error) {
	canonical := *b
	canonical.BundleHash = ""
	canonical.Signature = nil
	return json.Marshal(canonical)
}

func computeHash(b *Bundle) (string, error) {
	data, err := CanonicalJSON(b)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeProofSchemaInvalid, "encoding bundle for hashing")
	}
	return digest.HashBytes(data).Hex(), nil
}

// Sign computes a detached ed25519 signature over the bundle's hash and
// attaches it. kp must hold a private key.
func Sign(b *Bundle, kp *signing.KeyPair) error {
	sig, err := kp.Sign(b.RunID, b.BundleHash)
	if err != nil {
		return errors.Wrap(err, errors.CodeProofSignatureInvalid, "signing bundle")
	}
	b.Signature = sig
	return nil
}

// Result reports the outcome of Verify.
type Result struct {
	Valid bool
	Step  Step
	Err   error
}

// Verify runs schema, hash, and (if present) signature validation in order,
// stopping at the first failing step.
func Verify(b *Bundle) Result {
	if err := validateSchema(b); err != nil {
		return Result{Step: StepSchema, Err: err}
	}
	want, err := computeHash(b)
	if err != nil {
		return Result{Step: StepHash, Err: err}
	}
	if want != b.BundleHash {
		return Result{Step: StepHash, Err: errors.Newf(errors.CodeProofHashMismatch, "bundle hash mismatch: computed %s, recorded %s", want, b.BundleHash)}
	}
	if b.Signature != nil {
		if err := signing.Verify(b.Signature); err != nil {
			return Result{Step: StepSignature, Err: errors.Wrap(err, errors.CodeProofSignatureInvalid, "signature verification failed")}
		}
		if b.Signature.ProofHash != b.BundleHash {
			return Result{Step: StepSignature, Err: errors.New(errors.CodeProofSignatureInvalid, "signature does not cover this bundle's hash")}
		}
	}
	return Result{Valid: true}
}

func validateSchema(b *Bundle) error {
	if b.Version == "" {
		return errors.New(errors.CodeProofSchemaInvalid, "version is required")
	}
	if b.RunID == "" {
		return errors.New(errors.CodeProofSchemaInvalid, "run_id is required")
	}
	if b.BundleHash == "" {
		return errors.New(errors.CodeProofSchemaInvalid, "bundle_hash is required")
	}
	if _, err := digest.Parse(b.ActionFingerprint); err != nil {
		return errors.Wrap(err, errors.CodeProofSchemaInvalid, "action_fingerprint is invalid")
	}
	for _, d := range append(append([]ArtifactDigest{}, b.InputDigests...), b.OutputDigests...) {
		if _, err := digest.Parse(d.Digest); err != nil {
			return errors.Wrapf(err, errors.CodeProofSchemaInvalid, "invalid digest for %q", d.Path)
		}
	}
	return nil
}

// Load parses a bundle from a reader.
func Load(r io.Reader) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProofSchemaInvalid, "reading bundle")
	}
	return Parse(data)
}

// Parse decodes a bundle from JSON bytes.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrap(err, errors.CodeProofSchemaInvalid, "parsing bundle")
	}
	return &b, nil
}

// Save writes a bundle as indented JSON.
func Save(b *Bundle, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(b)
}
