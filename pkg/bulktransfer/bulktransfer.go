// Package bulktransfer implements the Bulk Transfer component: a thin
// wrapper over the rsync binary, invoked over the same SSH credentials as
// Transport, that moves a whole subtree in one direction in a single
// invocation.
package bulktransfer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/smlsync/smlsync/pkg/logging"
	"github.com/smlsync/smlsync/pkg/rsynclist"
	"github.com/smlsync/smlsync/pkg/syncerrors"
)

// Options selects the rsync flags used for a single transfer.
type Options struct {
	// Delete mirrors the source exactly, removing destination-only files
	// (used by bulk "up"/"down").
	Delete bool
	// Update refuses to overwrite files that are newer on the destination
	// (used by watch-mode "down").
	Update bool
}

// Transfer invokes rsync between a local directory and a remote directory
// reached over SSH.
type Transfer struct {
	LocalDir  string
	RemoteDir string
	Username  string
	Hostname  string
	Port      int
	KeyFile   string
	Excludes  []string
	logger    *logging.Logger
}

// New constructs a Transfer.
func New(localDir, remoteDir, username, hostname string, port int, keyFile string, excludes []string, logger *logging.Logger) *Transfer {
	return &Transfer{
		LocalDir:  localDir,
		RemoteDir: remoteDir,
		Username:  username,
		Hostname:  hostname,
		Port:      port,
		KeyFile:   keyFile,
		Excludes:  excludes,
		logger:    logger,
	}
}

// Up synchronizes subPath (relative; an empty string means the whole tree)
// from local to remote.
func (t *Transfer) Up(ctx context.Context, subPath string, opts Options) error {
	if path.IsAbs(subPath) {
		return syncerrors.NewConfigError("Bulk Transfer sub-path must be relative", nil)
	}
	local, remotePath := t.paths(subPath)
	remote := fmt.Sprintf("%s@%s:%s", t.Username, t.Hostname, remotePath)
	return t.rsync(ctx, local, remote, opts)
}

// Down synchronizes subPath (relative) from remote to local.
func (t *Transfer) Down(ctx context.Context, subPath string, opts Options) error {
	if path.IsAbs(subPath) {
		return syncerrors.NewConfigError("Bulk Transfer sub-path must be relative", nil)
	}
	local, remotePath := t.paths(subPath)
	remote := fmt.Sprintf("%s@%s:%s", t.Username, t.Hostname, remotePath)
	return t.rsync(ctx, remote, local, opts)
}

// paths joins subPath onto both roots. For the whole tree (an empty subPath)
// both paths keep a trailing slash, so that rsync transfers the root's
// contents rather than nesting the root directory inside the destination.
func (t *Transfer) paths(subPath string) (local, remote string) {
	local = path.Join(t.LocalDir, subPath)
	remote = path.Join(t.RemoteDir, subPath)
	if subPath == "" {
		local += "/"
		remote += "/"
	}
	return local, remote
}

func (t *Transfer) rsync(ctx context.Context, from, to string, opts Options) error {
	args := []string{"-a", "--no-owner", "--no-group", "--stats", "-e", t.sshCommand()}
	if opts.Delete {
		args = append(args, "--delete")
	}
	if opts.Update {
		args = append(args, "--update")
	}
	// Excludes are always passed, on every invocation, for consistency with
	// the Tree Lister.
	for _, pattern := range t.Excludes {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, from, to)

	if t.logger != nil {
		t.logger.Debug("rsync %s", strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, "rsync", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		transferErr := &syncerrors.TransferError{Args: args, Stderr: stderr.String(), Cause: err}
		if t.logger != nil {
			t.logger.Warn(transferErr)
		}
		return transferErr
	}

	if t.logger != nil {
		t.logger.Info("transferred %s (%s) -> %s in %s", from, humanize.Bytes(transferredBytes(stdout.String())), to, elapsed.Round(time.Millisecond))
	}
	return nil
}

// transferredBytes extracts rsync --stats' "Total transferred file size"
// line from stdout, returning 0 if it isn't present (e.g. an older rsync
// using a different stats format).
func transferredBytes(stdout string) uint64 {
	const marker = "Total transferred file size:"
	idx := strings.Index(stdout, marker)
	if idx < 0 {
		return 0
	}
	rest := strings.TrimSpace(stdout[idx+len(marker):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0
	}
	rest = strings.ReplaceAll(fields[0], ",", "")
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (t *Transfer) sshCommand() string {
	return "ssh " + strings.Join(rsynclist.SSHOptions, " ") + " -p " + strconv.Itoa(t.Port) + " -i " + t.KeyFile
}
