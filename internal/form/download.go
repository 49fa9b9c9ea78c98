package form

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirDownloader saves downloads into Dir. The payload is written to a
// temporary file first and renamed into place only once complete, so an
// interrupted transfer never leaves a partial spreadsheet under the final name.
type DirDownloader struct {
	Dir string

	// Saved is the path of the last successful download.
	Saved string
}

// Download implements Downloader.
func (d *DirDownloader) Download(name string, r io.Reader) (err error) {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("invalid file name %q", name)
	}
	dir := d.Dir
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, ".prodcount-*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}

	dst := filepath.Join(dir, name)
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	d.Saved = dst
	return nil
}
