// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// errUnsafePath rejects archive entries that escape the target directory.
var errUnsafePath = errors.New("archive entry escapes target directory")

// safeJoin joins name onto dir, refusing absolute paths and "..".
// SECURITY: Prevents zip-slip writes outside the runtime directory.
func safeJoin(dir, name string) (string, error) {
	name = filepath.FromSlash(name)
	if filepath.IsAbs(name) || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}
	p := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}
	return p, nil
}

// extractZip unpacks src into dir, calling step after every entry.
func extractZip(src, dir string, step func(i, n int)) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("ZIP error: %w", err)
	}
	defer zr.Close()

	n := len(zr.File)
	for i, f := range zr.File {
		if err := extractZipEntry(f, dir); err != nil {
			return err
		}
		if step != nil {
			step(i, n)
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, dir string) error {
	out, err := safeJoin(dir, f.Name)
	if err != nil {
		return err
	}
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		return os.MkdirAll(out, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("ZIP entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	return writeEntry(out, rc, f.Mode())
}

// extractTarGz unpacks a gzip-compressed tarball into dir.
func extractTarGz(src, dir string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("TGZ extraction error: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("TGZ extraction error: %w", err)
		}
		out, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if err := writeEntry(out, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// llama.cpp tarballs link versioned shared libraries.
			if _, err := safeJoin(filepath.Dir(out), hdr.Linkname); err != nil {
				return err
			}
			os.Remove(out)
			if err := os.Symlink(hdr.Linkname, out); err != nil {
				return err
			}
		}
	}
}

func writeEntry(path string, r io.Reader, mode os.FileMode) error {
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
