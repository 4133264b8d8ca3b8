package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

// TestUntrustedURLError_Error verifies the rejection names every allowed domain
func TestUntrustedURLError_Error(t *testing.T) {
	err := &UntrustedURLError{
		URL:     "https://evil.com/model.bin",
		Allowed: []string{"huggingface.co", "hf-mirror.com", "modelscope.cn"},
	}

	expected := "untrusted url https://evil.com/model.bin: only downloads from huggingface.co, hf-mirror.com, modelscope.cn are allowed"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestStatusError_Error verifies error message formatting
func TestStatusError_Error(t *testing.T) {
	err := &StatusError{
		URL:        "https://huggingface.co/a/b.bin",
		StatusCode: 404,
		Status:     "404 Not Found",
	}

	expected := "unexpected status 404 Not Found for url https://huggingface.co/a/b.bin"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestNetworkError_Unwrap verifies error chain traversal
func TestNetworkError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &NetworkError{
		Operation: "read_body",
		URL:       "https://huggingface.co/a/b.bin",
		Err:       cause,
	}

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}

// TestFilesystemError_Unwrap verifies error chain traversal
func TestFilesystemError_Unwrap(t *testing.T) {
	err := &FilesystemError{Op: "rename", Path: "/models/a.bin.partial", Err: fs.ErrPermission}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, fs.ErrPermission) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}

	var target *FilesystemError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract FilesystemError from wrapped chain")
	}

	if target.Op != "rename" {
		t.Errorf("Op = %q, want %q", target.Op, "rename")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "none"},
		{name: "untrusted", err: &UntrustedURLError{URL: "x"}, want: "untrusted"},
		{name: "status", err: fmt.Errorf("wrap: %w", &StatusError{StatusCode: 500}), want: "status"},
		{name: "network", err: &NetworkError{Err: errors.New("eof")}, want: "network"},
		{name: "filesystem", err: &FilesystemError{Op: "mkdir", Err: fs.ErrPermission}, want: "filesystem"},
		{name: "missing", err: &FilesystemError{Op: "stat", Err: ErrFileMissing}, want: "missing"},
		{name: "unknown", err: errors.New("boom"), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}
