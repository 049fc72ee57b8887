package digest

import (
	"crypto/sha256"
	"io"
	"os"
	"sort"
)

// HashBytes computes the digest of b directly.
func HashBytes(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// HashReader streams r through SHA-256 without buffering the whole input.
func HashReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// HashFile computes the digest of a file's contents.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	return HashReader(f)
}

// Combine folds a set of digests into one, order-independent: inputs are
// sorted before hashing so combine(a, b) == combine(b, a).
func Combine(digests ...Digest) Digest {
	sorted := make([]Digest, len(digests))
	copy(sorted, digests)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	h := sha256.New()
	for _, d := range sorted {
		h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
