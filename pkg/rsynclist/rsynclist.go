// Package rsynclist implements the Tree Lister: it materializes a flat
// ordered listing of a local or remote tree by invoking rsync in dry-run
// mode and parsing its itemized output, reusing exactly the
// inclusion/exclusion semantics that Bulk Transfer uses for a real
// transfer.
package rsynclist

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/smlsync/smlsync/pkg/fstree"
	"github.com/smlsync/smlsync/pkg/logging"
)

// SSHOptions are the SSH options passed to every rsync invocation, matching
// Bulk Transfer's connection policy exactly so that listings and transfers
// never disagree about reachability.
var SSHOptions = []string{
	"-o", "IdentitiesOnly=yes",
	"-o", "StrictHostKeyChecking=no",
	"-o", "BatchMode=yes",
}

const rsyncMtimeLayout = "2006/01/02-15:04:05"

// Lister lists local or remote trees via rsync --dry-run.
type Lister struct {
	Port    int
	KeyFile string
	logger  *logging.Logger
}

// New constructs a Lister that connects over SSH using port and keyFile.
func New(port int, keyFile string, logger *logging.Logger) *Lister {
	return &Lister{Port: port, KeyFile: keyFile, logger: logger}
}

// List lists root (a local absolute path, or a "user@host:/path" remote
// spec) honoring excludes, returning entries in rsync's enumeration order
// (callers must not rely on that order being stable or meaningful).
func (l *Lister) List(ctx context.Context, root string, excludes []string) ([]fstree.Object, error) {
	// A trailing slash makes rsync list the root's contents relative to the
	// root (the root itself reported as "./") instead of under its basename.
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	args := []string{
		"-a", "--dry-run", "--itemize-changes",
		"--out-format", "%i||%n||%M||%l",
		"-e", l.sshCommand(),
	}
	for _, pattern := range excludes {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, root, "/dev/false")

	cmd := exec.CommandContext(ctx, "rsync", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if l.logger != nil {
		l.logger.Debug("listing %s: rsync %s", root, strings.Join(args, " "))
	}

	// A dry-run listing against /dev/false always reports a non-zero exit
	// status from rsync even when nothing went wrong (it refuses to "write"
	// to /dev/false), so unlike Bulk Transfer we do not treat a non-zero
	// exit here as a TransferError: we only care about stdout, which rsync
	// populates before that final check.
	_ = cmd.Run()

	return parse(stdout.String(), l.logger), nil
}

func (l *Lister) sshCommand() string {
	return "ssh " + strings.Join(SSHOptions, " ") + " -p " + strconv.Itoa(l.Port) + " -i " + l.KeyFile
}

// parse turns rsync's "%i||%n||%M||%l" itemized output into a listing,
// skipping (and logging) any line that fails to parse rather than aborting
// the whole listing.
func parse(output string, logger *logging.Logger) []fstree.Object {
	var objects []fstree.Object
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		obj, ok := parseLine(line)
		if !ok {
			if logger != nil {
				logger.Debug("skipping unparseable rsync listing line: %q", line)
			}
			continue
		}
		objects = append(objects, obj)
	}
	return objects
}

func parseLine(line string) (fstree.Object, bool) {
	fields := strings.SplitN(line, "||", 4)
	if len(fields) != 4 {
		return fstree.Object{}, false
	}
	itemizeCode, relPath, mtimeStr, lengthStr := fields[0], fields[1], fields[2], fields[3]
	if relPath == "" {
		return fstree.Object{}, false
	}

	mtime, err := time.Parse(rsyncMtimeLayout, mtimeStr)
	if err != nil {
		return fstree.Object{}, false
	}

	isDirectory := len(itemizeCode) >= 2 && itemizeCode[1] == 'd'
	relPath = strings.TrimSuffix(relPath, "/")
	if relPath == "" || relPath == "." {
		// The transfer root itself (rsync reports it as "./"), not an entry
		// within it.
		return fstree.Object{}, false
	}

	if isDirectory {
		return fstree.NewDirectory(relPath, fstree.NewDirectoryAttrs(mtime)), true
	}

	length, err := strconv.ParseInt(lengthStr, 10, 64)
	if err != nil {
		return fstree.Object{}, false
	}
	return fstree.NewFile(relPath, fstree.NewFileAttrs(mtime, length)), true
}
