// Package actioncache maps an action fingerprint to its recorded outputs,
// and arbitrates at-most-one concurrent build per fingerprint across both
// goroutines in this process and other processes sharing the same database.
package actioncache

import (
	"encoding/json"
	"time"

	"bldr/internal/digest"
	bldrerrors "bldr/internal/errors"
	"bldr/internal/storage"
)

// Entry is one recorded action result.
type Entry struct {
	Outputs      map[string]digest.Digest
	ExitStatus   int
	StderrDigest digest.Digest
	Duration     time.Duration
}

func (e Entry) toRecord(fp digest.Digest) (storage.CacheEntryRecord, error) {
	outputs := make(map[string]string, len(e.Outputs))
	for path, d := range e.Outputs {
		outputs[path] = d.Hex()
	}
	b, err := json.Marshal(outputs)
	if err != nil {
		return storage.CacheEntryRecord{}, bldrerrors.Wrap(err, bldrerrors.CodeCacheCorrupt, "marshaling cache entry outputs")
	}
	return storage.CacheEntryRecord{
		Fingerprint:  fp.Hex(),
		OutputsJSON:  string(b),
		ExitStatus:   e.ExitStatus,
		StderrDigest: e.StderrDigest.Hex(),
		DurationMS:   e.Duration.Milliseconds(),
		RecordedAt:   time.Now().UTC(),
	}, nil
}

func entryFromRecord(rec storage.CacheEntryRecord) (Entry, error) {
	var rawOutputs map[string]string
	if err := json.Unmarshal([]byte(rec.OutputsJSON), &rawOutputs); err != nil {
		return Entry{}, bldrerrors.Wrap(err, bldrerrors.CodeCacheCorrupt, "unmarshaling cache entry outputs")
	}
	outputs := make(map[string]digest.Digest, len(rawOutputs))
	for path, hex := range rawOutputs {
		d, err := digest.Parse(hex)
		if err != nil {
			return Entry{}, bldrerrors.Wrap(err, bldrerrors.CodeCacheCorrupt, "parsing output digest for "+path)
		}
		outputs[path] = d
	}
	var stderrDigest digest.Digest
	if rec.StderrDigest != "" {
		d, err := digest.Parse(rec.StderrDigest)
		if err != nil {
			return Entry{}, bldrerrors.Wrap(err, bldrerrors.CodeCacheCorrupt, "parsing stderr digest")
		}
		stderrDigest = d
	}
	return Entry{
		Outputs:      outputs,
		ExitStatus:   rec.ExitStatus,
		StderrDigest: stderrDigest,
		Duration:     time.Duration(rec.DurationMS) * time.Millisecond,
	}, nil
}
