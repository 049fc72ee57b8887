package repository

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"archive/tar"

	"bldr/internal/backpressure"
	"bldr/internal/digest"
	"bldr/internal/errors"
)

// httpClient is overridable in tests.
var httpClient = &http.Client{Timeout: 5 * time.Minute}

// fetchArchive downloads an http_archive source to a temp file with
// exponential-backoff retries on transient network errors, then verifies
// its digest against src.Integrity before returning the temp path. The
// caller owns removing the returned path. On any failure, including an
// integrity mismatch, no partial file is left behind.
func fetchArchive(ctx context.Context, src Source) (string, error) {
	if src.Integrity.Hex == "" {
		return "", errors.Newf(errors.CodeRepoInvalidReference, "source %q requires a declared integrity hash", src.Name)
	}

	tmp, err := os.CreateTemp("", "repo-fetch-*")
	if err != nil {
		return "", errors.Wrap(err, errors.CodeRepoFetchFailed, "creating temp file")
	}
	tmpPath := tmp.Name()
	tmp.Close()

	opts := backpressure.DefaultRetryOptions()
	opts.MaxRetries = 5

	err = backpressure.Retry(ctx, opts, func() error {
		return downloadOnce(ctx, src.URL, tmpPath)
	})
	if err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, errors.CodeRepoFetchFailed, "fetching "+src.URL)
	}

	got, err := digest.HashFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, errors.CodeRepoFetchFailed, "hashing fetched archive")
	}
	if !strings.EqualFold(got.Hex(), src.Integrity.Hex) {
		os.Remove(tmpPath)
		return "", errors.Newf(errors.CodeRepoIntegrityMismatch, "source %q: expected sha256 %s, got %s", src.Name, src.Integrity.Hex, got.Hex())
	}
	return tmpPath, nil
}

func downloadOnce(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.New(errors.CodeRepoInvalidReference, err.Error())
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CodeRepoFetchFailed, "http request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errors.Newf(errors.CodeRepoFetchFailed, "server error %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.CodeRepoFetchFailed, "unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, errors.CodeRepoFetchFailed, "opening destination")
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return errors.Wrap(err, errors.CodeRepoFetchFailed, "writing destination")
	}
	return nil
}

// extractTarGz extracts a gzip-compressed tar archive at archivePath into
// destDir, stripping stripPrefix from every entry's path when present.
func extractTarGz(archivePath, destDir, stripPrefix string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, errors.CodeRepoFetchFailed, "opening gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.CodeRepoFetchFailed, "reading tar entry")
		}

		name := hdr.Name
		if stripPrefix != "" {
			trimmed := strings.TrimPrefix(name, stripPrefix+"/")
			if trimmed == name {
				continue // entry is outside the stripped prefix
			}
			name = trimmed
		}
		if name == "" {
			continue
		}

		target := filepath.Join(destDir, filepath.Clean(name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) {
			return errors.Newf(errors.CodeRepoFetchFailed, "tar entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
