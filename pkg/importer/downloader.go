package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/japaniel/kinenrich/pkg/logging"
)

// DownloadClient is used by EnsureDataset.
var DownloadClient = &http.Client{Timeout: 5 * time.Minute}

// EnsureDataset makes sure a dump exists at path, downloading it from url when missing.
// Archives (.gz, .tgz, .tar.gz URLs) are unpacked so path always holds plain JSON.
func EnsureDataset(ctx context.Context, path, url string, log *logging.Logger) error {
	log = logging.OrNop(log)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if url == "" {
		return fmt.Errorf("dataset %s not found and no download url configured", path)
	}

	log.Info("dataset not found, downloading", "path", path, "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "kinenrich-cli")
	resp, err := DownloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	data, err := readDump(resp.Body, strings.SplitN(url, "?", 2)[0])
	if err != nil {
		return fmt.Errorf("unpack %s: %w", url, err)
	}
	if _, err := DecodeDump(data); err != nil {
		return fmt.Errorf("downloaded dataset: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	// written beside path, then renamed into place
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install dataset: %w", err)
	}
	log.Info("dataset downloaded", "path", path, "bytes", len(data))
	return nil
}
