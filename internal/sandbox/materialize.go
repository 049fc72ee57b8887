package sandbox

import (
	"os"
	"path/filepath"

	"bldr/internal/cas"
	"bldr/internal/digest"
	bldrerrors "bldr/internal/errors"
)

// materialize links every declared input from the store into workDir at its
// workspace-relative path, building a private view of exactly the inputs an
// action declared rather than the whole repository.
func materialize(store *cas.Store, workDir string, inputs []digest.InputPair) error {
	for _, in := range inputs {
		dest := filepath.Join(workDir, filepath.FromSlash(in.Path))
		if err := store.Link(cas.KindFile, in.Digest, dest); err != nil {
			return bldrerrors.Wrap(err, bldrerrors.CodeSandboxCreateFailed, "materializing input "+in.Path)
		}
	}
	return nil
}

// ingestOutputs hashes and stores each declared output path relative to
// workDir, returning a digest per path. A missing declared output is an
// error: the action promised it and didn't produce it.
func ingestOutputs(store *cas.Store, workDir string, outputPaths []string) (map[string]digest.Digest, error) {
	out := make(map[string]digest.Digest, len(outputPaths))
	for _, rel := range outputPaths {
		full := filepath.Join(workDir, filepath.FromSlash(rel))
		b, err := os.ReadFile(full)
		if err != nil {
			return nil, bldrerrors.Wrap(err, bldrerrors.CodeSandboxOutputMissing, "reading declared output "+rel)
		}
		d, err := store.Put(cas.KindFile, b)
		if err != nil {
			return nil, bldrerrors.Wrap(err, bldrerrors.CodeSandboxOutputMissing, "storing output "+rel)
		}
		out[rel] = d
	}
	return out, nil
}
