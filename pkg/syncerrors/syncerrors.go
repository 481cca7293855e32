// Package syncerrors defines the engine's error taxonomy. Every error kind
// except IdentityResolutionError and RemoteNotDirectory carries its own
// Cause and implements Unwrap so that callers can still reach the root cause
// with errors.As, even though the causes themselves are typically produced
// elsewhere with github.com/pkg/errors.Wrap (see pkg/transport).
package syncerrors

import "fmt"

// ConfigError indicates a bad CLI invocation or configuration file (e.g.
// duplicate project sections, a missing required project identity).
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NewConfigError wraps cause (which may be nil) as a ConfigError.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}

// IdentityResolutionError indicates that a project or server identity could
// not be resolved, or was ambiguous.
type IdentityResolutionError struct {
	Message string
}

func (e *IdentityResolutionError) Error() string {
	return fmt.Sprintf("identity resolution error: %s", e.Message)
}

// TransportConnectError indicates that an SSH/SFTP session could not be
// established. It is always fatal.
type TransportConnectError struct {
	Host  string
	Cause error
}

func (e *TransportConnectError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Host, e.Cause)
}

func (e *TransportConnectError) Unwrap() error { return e.Cause }

// RemoteNotDirectory indicates that a configured or supplied remote path
// does not stat as a directory. The controller recovers from this by
// prompting for a different remote directory rather than treating it as
// fatal.
type RemoteNotDirectory struct {
	Path string
}

func (e *RemoteNotDirectory) Error() string {
	return fmt.Sprintf("%s is not a directory on the remote host", e.Path)
}

// TransferError indicates that an invocation of rsync exited with a
// non-zero status. It carries the captured standard error so the caller can
// surface it verbatim to the user or log.
type TransferError struct {
	Args   []string
	Stderr string
	Cause  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("rsync %v failed: %v: %s", e.Args, e.Cause, e.Stderr)
}

func (e *TransferError) Unwrap() error { return e.Cause }

// TransportError wraps a failure from a Transport operation (stat, mkdir,
// rmdir, remove, rename). Callers distinguish "not found" failures with
// IsNotExist, since remove/rmdir treat those as a no-op success.
type TransportError struct {
	Op    string
	Path  string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
