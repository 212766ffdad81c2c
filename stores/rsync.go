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
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/kbase/librarian/config"
)

// RsyncManager backs a catalog.Store whose bytes live on a remote host
// reachable over SSH, in the manner of hera_librarian.store.Store's
// ssh_host/path_prefix pair: an SSH-accessible machine with its own
// disk. No rsync/SSH client library appears anywhere in the example
// pack, so RsyncManager shells out to the rsync and ssh binaries
// directly via os/exec, rather than reimplementing the rsync wire
// protocol.
type RsyncManager struct {
	root string
	host string
	user string
}

// NewRsyncManager constructs an RsyncManager for a store rooted at root
// on rsyncConfig.Host.
func NewRsyncManager(root string, rsyncConfig config.RsyncConfig) (*RsyncManager, error) {
	if rsyncConfig.Host == "" {
		return nil, fmt.Errorf("rsync store requires a host")
	}
	return &RsyncManager{root: root, host: rsyncConfig.Host, user: rsyncConfig.User}, nil
}

func (m *RsyncManager) remoteAddr(relPath string) string {
	userHost := m.host
	if m.user != "" {
		userHost = m.user + "@" + m.host
	}
	return fmt.Sprintf("%s:%s", userHost, path.Join(m.root, relPath))
}

// PathInfo queries the remote host for path's size and MD5 checksum via
// a single SSH command, rather than two round trips.
func (m *RsyncManager) PathInfo(ctx context.Context, relPath string) (PathInfo, error) {
	remotePath := path.Join(m.root, relPath)
	cmd := exec.CommandContext(ctx, "ssh", m.sshTarget(),
		fmt.Sprintf("test -f %s && stat -c %%s %s && md5sum %s | cut -d' ' -f1", shellQuote(remotePath), shellQuote(remotePath), shellQuote(remotePath)))
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return PathInfo{Exists: false}, nil
		}
		return PathInfo{}, fmt.Errorf("querying %s: %w", remotePath, err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 {
		return PathInfo{}, fmt.Errorf("unexpected stat output for %s: %q", remotePath, out)
	}
	size, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return PathInfo{}, fmt.Errorf("parsing size for %s: %w", remotePath, err)
	}
	return PathInfo{Exists: true, Size: size, Checksum: strings.ToLower(lines[1])}, nil
}

// Commit rsyncs stagingPath (local) to its final remote destination,
// with rsync removing the staged source file once it is copied, after
// checking first for an already-present match.
func (m *RsyncManager) Commit(ctx context.Context, stagingPath, destPath string, expectedSize int64, expectedChecksum string) error {
	if existing, err := m.PathInfo(ctx, destPath); err == nil && existing.Exists {
		if existing.Size == expectedSize && strings.EqualFold(existing.Checksum, expectedChecksum) {
			return fmt.Errorf("%w at %s", ErrAlreadyPresent, destPath)
		}
		return fmt.Errorf("destination %s already exists with different content", destPath)
	}

	mkdirCmd := exec.CommandContext(ctx, "ssh", m.sshTarget(),
		fmt.Sprintf("mkdir -p %s", shellQuote(path.Dir(path.Join(m.root, destPath)))))
	if err := mkdirCmd.Run(); err != nil {
		return fmt.Errorf("creating remote destination directory: %w", err)
	}

	rsyncCmd := exec.CommandContext(ctx, "rsync", "-a", "--remove-source-files",
		path.Join(m.root, stagingPath), m.remoteAddr(destPath))
	if err := rsyncCmd.Run(); err != nil {
		return fmt.Errorf("rsyncing %s to %s: %w", stagingPath, destPath, err)
	}
	return nil
}

// Unstage removes a staged file on the remote host.
func (m *RsyncManager) Unstage(ctx context.Context, stagingPath string) error {
	remotePath := path.Join(m.root, stagingPath)
	cmd := exec.CommandContext(ctx, "ssh", m.sshTarget(), fmt.Sprintf("rm -f %s", shellQuote(remotePath)))
	return cmd.Run()
}

// FreeSpace queries the remote host's available space via `df`.
func (m *RsyncManager) FreeSpace(ctx context.Context) (int64, error) {
	cmd := exec.CommandContext(ctx, "ssh", m.sshTarget(),
		fmt.Sprintf("df -B1 --output=avail %s | tail -n 1", shellQuote(m.root)))
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("querying free space on %s: %w", m.host, err)
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	scanner.Scan()
	bytesAvail, err := strconv.ParseInt(strings.TrimSpace(scanner.Text()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing free space output %q: %w", out, err)
	}
	return bytesAvail, nil
}

func (m *RsyncManager) sshTarget() string {
	if m.user != "" {
		return m.user + "@" + m.host
	}
	return m.host
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
