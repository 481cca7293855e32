// Package transport implements the engine's Transport component: a single
// long-lived SSH/SFTP session, opened by the Controller when it verifies the
// remote directory and shared with the Held-Paths Monitor and the Uploader
// during watch mode. The Tree Lister does not use it; it lists through rsync.
package transport

import (
	goerrors "errors"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/smlsync/smlsync/pkg/logging"
	"github.com/smlsync/smlsync/pkg/syncerrors"
)

// SshDetails identifies the remote host and credentials used to open a
// Transport.
type SshDetails struct {
	Hostname string
	Port     int
	Username string
	KeyFile  string
}

// Transport holds one SSH connection and one SFTP session. All paths passed
// to its methods must already be joined with the remote root; Transport
// itself performs no path manipulation.
type Transport struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	logger     *logging.Logger
}

// Dial opens an SSH connection and an SFTP session using details. The
// returned Transport owns both and must be closed with Close when no longer
// needed.
func Dial(details SshDetails, logger *logging.Logger) (*Transport, error) {
	key, err := ioutil.ReadFile(details.KeyFile)
	if err != nil {
		return nil, &syncerrors.TransportConnectError{Host: details.Hostname, Cause: errors.Wrap(err, "unable to read private key")}
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, &syncerrors.TransportConnectError{Host: details.Hostname, Cause: errors.Wrap(err, "unable to parse private key")}
	}

	config := &ssh.ClientConfig{
		User:            details.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // matches Bulk Transfer's StrictHostKeyChecking=no
		Timeout:         10 * time.Second,
	}

	address := addressFor(details)
	sshClient, err := ssh.Dial("tcp", address, config)
	if err != nil {
		return nil, &syncerrors.TransportConnectError{Host: address, Cause: err}
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, &syncerrors.TransportConnectError{Host: address, Cause: errors.Wrap(err, "unable to start SFTP session")}
	}

	if logger != nil {
		logger.Info("connected to %s", address)
	}

	return &Transport{sshClient: sshClient, sftpClient: sftpClient, logger: logger}, nil
}

func addressFor(details SshDetails) string {
	return fmt.Sprintf("%s:%d", details.Hostname, details.Port)
}

// Close releases the SFTP session and the underlying SSH connection.
func (t *Transport) Close() error {
	var firstErr error
	if err := t.sftpClient.Close(); err != nil {
		firstErr = err
	}
	if err := t.sshClient.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Stat returns the os.FileInfo for path. The error is wrapped in a
// TransportError; callers use this package's IsNotExist, which unwraps it,
// to detect ENOENT.
func (t *Transport) Stat(path string) (os.FileInfo, error) {
	info, err := t.sftpClient.Stat(path)
	if err != nil {
		return nil, &syncerrors.TransportError{Op: "stat", Path: path, Cause: err}
	}
	return info, nil
}

// ModTime is a convenience wrapper around Stat used by the Held-Paths
// Monitor, truncated to second precision to match the listing data model.
func (t *Transport) ModTime(path string) (time.Time, error) {
	info, err := t.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime().Truncate(time.Second), nil
}

// IsNotExist reports whether err represents an ENOENT-shaped failure from a
// Transport method. It is also exposed as a method so that *Transport
// satisfies the RemoteMutator/RemoteStater interfaces used by the Uploader
// and the Held-Paths Monitor.
func (t *Transport) IsNotExist(err error) bool {
	return IsNotExist(err)
}

func IsNotExist(err error) bool {
	for err != nil {
		if os.IsNotExist(err) {
			return true
		}
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			return false
		}
		err = unwrapped
	}
	return false
}

// Mkdir creates path on the remote host.
func (t *Transport) Mkdir(path string) error {
	if err := t.sftpClient.MkdirAll(path); err != nil {
		return &syncerrors.TransportError{Op: "mkdir", Path: path, Cause: err}
	}
	return nil
}

// Rmdir removes the (empty) directory at path. ENOENT is swallowed by the
// Uploader, not here: this method always reports the underlying error so
// callers can decide.
func (t *Transport) Rmdir(path string) error {
	if err := t.sftpClient.RemoveDirectory(path); err != nil {
		return &syncerrors.TransportError{Op: "rmdir", Path: path, Cause: err}
	}
	return nil
}

// Remove removes the file at path.
func (t *Transport) Remove(path string) error {
	if err := t.sftpClient.Remove(path); err != nil {
		return &syncerrors.TransportError{Op: "remove", Path: path, Cause: err}
	}
	return nil
}

// Rename performs an atomic rename from src to dest on the remote host.
func (t *Transport) Rename(src, dest string) error {
	if err := t.sftpClient.Rename(src, dest); err != nil {
		return &syncerrors.TransportError{Op: "rename", Path: src, Cause: err}
	}
	return nil
}
