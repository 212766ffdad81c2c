// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package stores

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// LocalManager backs a catalog.Store whose bytes live on the same
// filesystem as the librarian process, rooted at a configured
// directory. It's the simplest Manager and the one exercised by tests.
type LocalManager struct {
	root string
}

// NewLocalManager constructs a LocalManager rooted at root, which must
// already exist.
func NewLocalManager(root string) (*LocalManager, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local store root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local store root %q is not a directory", root)
	}
	return &LocalManager{root: root}, nil
}

func (m *LocalManager) abs(path string) string {
	return filepath.Join(m.root, path)
}

// PathInfo stats path and, if present, computes its MD5 checksum.
func (m *LocalManager) PathInfo(ctx context.Context, path string) (PathInfo, error) {
	abs := m.abs(path)
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return PathInfo{Exists: false}, nil
		}
		return PathInfo{}, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return PathInfo{}, err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return PathInfo{}, err
	}

	return PathInfo{
		Exists:   true,
		Size:     info.Size(),
		Checksum: strings.ToLower(hex.EncodeToString(h.Sum(nil))),
	}, nil
}

// Commit moves a staged file into its final destination, creating
// destination subdirectories as needed. If the destination already
// holds content matching expectedSize/expectedChecksum, Commit returns
// ErrAlreadyPresent and removes the staged copy rather than erroring,
// matching complete_upload's "we already have the intended instance"
// short-circuit.
func (m *LocalManager) Commit(ctx context.Context, stagingPath, destPath string, expectedSize int64, expectedChecksum string) error {
	destAbs := m.abs(destPath)
	expectedChecksum = strings.ToLower(expectedChecksum)

	if existing, err := m.PathInfo(ctx, destPath); err == nil && existing.Exists {
		if existing.Size == expectedSize && existing.Checksum == expectedChecksum {
			if err := m.Unstage(ctx, stagingPath); err != nil {
				return fmt.Errorf("removing redundant staged copy %s: %w", stagingPath, err)
			}
			return fmt.Errorf("%w at %s", ErrAlreadyPresent, destPath)
		}
		return fmt.Errorf("destination %s already exists with different content", destPath)
	}

	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
		return fmt.Errorf("creating destination directory for %s: %w", destPath, err)
	}

	stagingAbs := m.abs(stagingPath)
	if err := os.Rename(stagingAbs, destAbs); err != nil {
		// os.Rename fails across filesystems (e.g. staging on a
		// different mount than the store root); fall back to copy+remove.
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
			if err := copyFile(stagingAbs, destAbs); err != nil {
				return fmt.Errorf("copying %s to %s: %w", stagingPath, destPath, err)
			}
			return os.Remove(stagingAbs)
		}
		return fmt.Errorf("moving %s to %s: %w", stagingPath, destPath, err)
	}
	return nil
}

// Unstage removes a staged file; it's not an error for the file to
// already be gone, since a prior Commit may have already moved it.
func (m *LocalManager) Unstage(ctx context.Context, stagingPath string) error {
	err := os.Remove(m.abs(stagingPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// FreeSpace reports free bytes on the filesystem backing root, via
// syscall.Statfs.
func (m *LocalManager) FreeSpace(ctx context.Context) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.root, &stat); err != nil {
		return 0, fmt.Errorf("statting %s: %w", m.root, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
