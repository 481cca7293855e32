package transport

import (
	"os"
	"testing"

	"github.com/smlsync/smlsync/pkg/syncerrors"
)

func TestIsNotExistUnwrapsTransportError(t *testing.T) {
	wrapped := &syncerrors.TransportError{Op: "remove", Path: "a.txt", Cause: os.ErrNotExist}
	if !IsNotExist(wrapped) {
		t.Fatal("expected IsNotExist to unwrap to the underlying os.ErrNotExist")
	}
}

func TestIsNotExistFalseForOtherErrors(t *testing.T) {
	wrapped := &syncerrors.TransportError{Op: "remove", Path: "a.txt", Cause: os.ErrPermission}
	if IsNotExist(wrapped) {
		t.Fatal("expected IsNotExist to be false for a permission error")
	}
}

func TestAddressFor(t *testing.T) {
	if got, want := addressFor(SshDetails{Hostname: "example.com", Port: 2222}), "example.com:2222"; got != want {
		t.Fatalf("addressFor() = %q, want %q", got, want)
	}
}
