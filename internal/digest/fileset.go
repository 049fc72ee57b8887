package digest

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
)

// fileResult carries the outcome of hashing a single file across workers.
type fileResult struct {
	path string
	sum  Digest
	err  error
}

// HashFileset hashes the contents and path of every file concurrently and
// folds the results into one order-independent digest. The path is salted
// into each file's contribution so a rename counts as a change even when
// contents are untouched.
func HashFileset(paths []string) (Digest, error) {
	if len(paths) == 0 {
		return Zero, nil
	}

	jobs := make(chan string)
	results := make(chan fileResult)

	nWorkers := runtime.NumCPU()
	if nWorkers > len(paths) {
		nWorkers = len(paths)
	}

	var wg sync.WaitGroup
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go hashWorker(jobs, results, &wg)
	}

	go func() {
		for _, p := range paths {
			jobs <- p
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	type entry struct {
		path string
		sum  Digest
	}
	entries := make([]entry, 0, len(paths))
	var firstErr error
	for r := range results {
		if r.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("hashing %s: %w", r.path, r.err)
			continue
		}
		entries = append(entries, entry{path: r.path, sum: r.sum})
	}
	if firstErr != nil {
		return Zero, firstErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	var buf bytes.Buffer
	for _, e := range entries {
		buf.Write(e.sum[:])
		buf.WriteString(e.path)
	}

	return HashBytes(buf.Bytes()), nil
}

func hashWorker(paths <-chan string, results chan<- fileResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			results <- fileResult{path: path, err: err}
			continue
		}
		if info.IsDir() {
			continue
		}
		sum, err := HashFile(path)
		results <- fileResult{path: path, sum: sum, err: err}
	}
}
