package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSHConfigAddr(t *testing.T) {
	cfg := SSHConfig{Host: "10.11.99.1"}
	assert.Equal(t, "10.11.99.1:22", cfg.addr())

	cfg.Port = 2222
	assert.Equal(t, "10.11.99.1:2222", cfg.addr())
}

func TestRelPath(t *testing.T) {
	rel, err := relPath("/home/root/store", "/home/root/store/abc/page.rm")
	require.NoError(t, err)
	assert.Equal(t, "abc/page.rm", rel)

	_, err = relPath("/home/root/store", "/etc/passwd")
	assert.Error(t, err)
}

func TestCommandErrorFormat(t *testing.T) {
	err := &CommandError{Command: "ls /x", ExitCode: 2, Stderr: "no such file"}
	assert.Contains(t, err.Error(), "ls /x")
	assert.Contains(t, err.Error(), "exited 2")
	assert.Contains(t, err.Error(), "no such file")

	quiet := &CommandError{Command: "true", ExitCode: 1}
	assert.NotContains(t, quiet.Error(), ": \n")
}

func TestMethodsRequireConnection(t *testing.T) {
	tr := NewSSHTransport(SSHConfig{Host: "10.11.99.1", User: "root", Password: "x"})

	_, err := tr.ExecuteCommand(context.Background(), "echo hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = tr.ListFiles(context.Background(), "/store")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = tr.DownloadDocument(context.Background(), "doc", []string{"a"}, "/store", t.TempDir())
	assert.ErrorIs(t, err, ErrNotConnected)

	// Close on a never-connected transport is a no-op.
	assert.NoError(t, tr.Close())
}

func TestAuthMethodsRequireCredentials(t *testing.T) {
	tr := NewSSHTransport(SSHConfig{Host: "10.11.99.1", User: "root"})
	_, err := tr.authMethods()
	assert.Error(t, err)

	tr = NewSSHTransport(SSHConfig{Host: "10.11.99.1", User: "root", Password: "secret"})
	methods, err := tr.authMethods()
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}
