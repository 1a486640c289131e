// Package bundle appends a custom site to a copy of the binary so one file
// can ship its own page. The site is a ZIP archive followed by a fixed footer.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// MagicMarker identifies bundled binaries.
	MagicMarker = "SNIPSITE"
	// FooterSize is 8 bytes offset, 8 bytes size and 8 bytes magic.
	FooterSize = 24
)

// ErrNotBundled is returned when a binary carries no site.
var ErrNotBundled = errors.New("binary is not bundled")

// ignoreFiles matches editor backup and lock files.
var ignoreFiles = regexp.MustCompile(`^(|.*/)((#|\.#)[^/]*|[^/]*~)$`)

type footer struct {
	Offset int64
	Size   int64
	Magic  [8]byte
}

// readFooter returns the footer of f, or ok=false when f is not bundled.
func readFooter(f *os.File) (ft footer, size int64, ok bool, err error) {
	info, err := f.Stat()
	if err != nil {
		return ft, 0, false, err
	}
	size = info.Size()
	if size < FooterSize {
		return ft, size, false, nil
	}
	if _, err := f.Seek(size-FooterSize, io.SeekStart); err != nil {
		return ft, size, false, err
	}
	if err := binary.Read(f, binary.LittleEndian, &ft); err != nil {
		return ft, size, false, nil
	}
	ok = bytes.Equal(ft.Magic[:], []byte(MagicMarker)) && ft.Offset >= 0 && ft.Offset+ft.Size+FooterSize == size
	return ft, size, ok, nil
}

// BinarySize returns the size of the executable part of path, excluding any
// bundled site.
func BinarySize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open binary: %w", err)
	}
	defer f.Close()

	ft, size, ok, err := readFooter(f)
	if err != nil {
		return 0, err
	}
	if ok {
		return ft.Offset, nil
	}
	return size, nil
}

// Create writes output: the executable part of sourceBinary followed by the
// files of siteDir. An existing bundle on sourceBinary is replaced.
func Create(sourceBinary, siteDir, output string) error {
	binarySize, err := BinarySize(sourceBinary)
	if err != nil {
		return err
	}

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	if err := addDir(zw, siteDir); err != nil {
		zw.Close()
		return fmt.Errorf("failed to add site files: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close ZIP writer: %w", err)
	}

	src, err := os.Open(sourceBinary)
	if err != nil {
		return fmt.Errorf("failed to open source binary: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if _, err := io.CopyN(out, src, binarySize); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy binary: %w", err)
	}
	if _, err := out.Write(zipBuf.Bytes()); err != nil {
		out.Close()
		return fmt.Errorf("failed to write ZIP data: %w", err)
	}

	ft := footer{Offset: binarySize, Size: int64(zipBuf.Len())}
	copy(ft.Magic[:], MagicMarker)
	if err := binary.Write(out, binary.LittleEndian, ft); err != nil {
		out.Close()
		return fmt.Errorf("failed to write footer: %w", err)
	}
	return out.Close()
}

// addDir adds the regular files under dir, skipping dot directories and
// editor leftovers.
func addDir(zw *zip.Writer, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || ignoreFiles.MatchString(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = rel
		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}

// Read returns the site bundled on the binary at path. It returns
// ErrNotBundled when there is none.
func Read(path string) (*zip.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open binary: %w", err)
	}
	defer f.Close()

	ft, _, ok, err := readFooter(f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotBundled
	}

	data := make([]byte, ft.Size)
	if _, err := f.ReadAt(data, ft.Offset); err != nil {
		return nil, fmt.Errorf("failed to read ZIP data: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), ft.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP reader: %w", err)
	}
	return zr, nil
}

// Site returns the site bundled on the running executable, or ErrNotBundled.
func Site() (fs.FS, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	zr, err := Read(exe)
	if err != nil {
		return nil, err
	}
	return zr, nil
}

// Extract copies every file of site into dir.
func Extract(site fs.FS, dir string) error {
	return fs.WalkDir(site, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := fs.ReadFile(site, p)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("failed to extract %s: %w", p, err)
		}
		return nil
	})
}

// List returns the names of the regular files in site, sorted.
func List(site fs.FS) ([]string, error) {
	var names []string
	err := fs.WalkDir(site, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, p)
		}
		return nil
	})
	return names, err
}
