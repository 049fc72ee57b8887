package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// fingerprintVersion is mixed into every action fingerprint so that a change
// to this canonicalization invalidates every previously recorded cache entry
// rather than silently colliding with it.
const fingerprintVersion uint32 = 1

// InputPair is a single (workspace path -> content digest) pair contributing
// to an action's fingerprint.
type InputPair struct {
	Path   string
	Digest Digest
}

// ActionSpec is the canonicalization input for FingerprintAction. It mirrors
// the subset of an action's identity that determines equivalence of result:
// two specs that canonicalize identically may safely share a cache entry.
type ActionSpec struct {
	Command      []string
	Env          map[string]string
	Inputs       []InputPair
	OutputPaths  []string
	ToolDigest   Digest
	Platform     string
	Capabilities string
}

// FingerprintAction computes the digest of a canonical serialization of spec:
// command argv, sorted environment, inputs sorted by path then digest, sorted
// output paths, tool digest, platform, and capabilities. Equal fingerprints
// imply equivalent required results.
func FingerprintAction(spec ActionSpec) Digest {
	var buf bytes.Buffer

	writeUint32(&buf, fingerprintVersion)

	writeUint32(&buf, uint32(len(spec.Command)))
	for _, arg := range spec.Command {
		writeString(&buf, arg)
	}

	envKeys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	writeUint32(&buf, uint32(len(envKeys)))
	for _, k := range envKeys {
		writeString(&buf, k)
		writeString(&buf, spec.Env[k])
	}

	inputs := make([]InputPair, len(spec.Inputs))
	copy(inputs, spec.Inputs)
	sort.Slice(inputs, func(i, j int) bool {
		if inputs[i].Path != inputs[j].Path {
			return inputs[i].Path < inputs[j].Path
		}
		return inputs[i].Digest.Less(inputs[j].Digest)
	})
	writeUint32(&buf, uint32(len(inputs)))
	for _, in := range inputs {
		writeString(&buf, in.Path)
		buf.Write(in.Digest[:])
	}

	outputs := make([]string, len(spec.OutputPaths))
	copy(outputs, spec.OutputPaths)
	sort.Strings(outputs)
	writeUint32(&buf, uint32(len(outputs)))
	for _, p := range outputs {
		writeString(&buf, p)
	}

	buf.Write(spec.ToolDigest[:])
	writeString(&buf, spec.Platform)
	writeString(&buf, spec.Capabilities)

	sum := sha256.Sum256(buf.Bytes())
	return Digest(sum)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}
