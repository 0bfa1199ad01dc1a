package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/inksight/inksync/internal/utils"
)

const defaultConnectTimeout = 10 * time.Second

// SSHConfig carries everything needed to reach the appliance over SSH.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	KeyFile        string
	ConnectTimeout time.Duration
}

func (c *SSHConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(port))
}

// SSHTransport implements Transport over an SSH session with an SFTP
// subsystem for listings and downloads.
type SSHTransport struct {
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client
	sftpc  *sftp.Client
}

var _ Transport = (*SSHTransport)(nil)

func NewSSHTransport(cfg SSHConfig) *SSHTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &SSHTransport{cfg: cfg}
}

func (t *SSHTransport) Connect(ctx context.Context) error {
	auth, err := t.authMethods()
	if err != nil {
		return err
	}

	sshCfg := &ssh.ClientConfig{
		User: t.cfg.User,
		Auth: auth,
		// The appliance regenerates its host key on every reflash and is
		// reached over a point-to-point USB link, so pinning buys nothing.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.cfg.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.addr())
	if err != nil {
		return fmt.Errorf("device: dial %s: %w", t.cfg.addr(), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.cfg.addr(), sshCfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("device: ssh handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("device: sftp subsystem: %w", err)
	}

	t.mu.Lock()
	old, oldSftp := t.client, t.sftpc
	t.client, t.sftpc = client, sftpc
	t.mu.Unlock()

	if oldSftp != nil {
		oldSftp.Close()
	}
	if old != nil {
		old.Close()
	}

	slog.Debug("device connected", "addr", t.cfg.addr(), "user", t.cfg.User)
	return nil
}

func (t *SSHTransport) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if t.cfg.KeyFile != "" {
		keyPath, err := utils.ResolvePath(t.cfg.KeyFile)
		if err == nil && utils.FileExists(keyPath) {
			pem, err := os.ReadFile(keyPath)
			if err != nil {
				return nil, fmt.Errorf("device: read key %s: %w", keyPath, err)
			}
			signer, err := ssh.ParsePrivateKey(pem)
			if err != nil {
				return nil, fmt.Errorf("device: parse key %s: %w", keyPath, err)
			}
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if t.cfg.Password != "" {
		methods = append(methods, ssh.Password(t.cfg.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("device: no usable auth method, set key_file or password")
	}
	return methods, nil
}

func (t *SSHTransport) conn() (*ssh.Client, *sftp.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil || t.sftpc == nil {
		return nil, nil, ErrNotConnected
	}
	return t.client, t.sftpc, nil
}

func (t *SSHTransport) ExecuteCommand(ctx context.Context, command string) (string, error) {
	client, _, err := t.conn()
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("device: new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return stdout.String(), &CommandError{
					Command:  command,
					ExitCode: exitErr.ExitStatus(),
					Stderr:   strings.TrimSpace(stderr.String()),
				}
			}
			return "", fmt.Errorf("device: run %q: %w", command, err)
		}
		return stdout.String(), nil
	}
}

func (t *SSHTransport) ListFiles(ctx context.Context, dir string) ([]RemoteFile, error) {
	_, sftpc, err := t.conn()
	if err != nil {
		return nil, err
	}

	var files []RemoteFile
	walker := sftpc.Walk(dir)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := walker.Err(); err != nil {
			return nil, fmt.Errorf("device: walk %s: %w", walker.Path(), err)
		}
		info := walker.Stat()
		if info == nil || info.IsDir() {
			continue
		}
		rel, err := relPath(dir, walker.Path())
		if err != nil {
			continue
		}
		files = append(files, RemoteFile{
			Path:       rel,
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}

	return files, nil
}

func (t *SSHTransport) DownloadDocument(ctx context.Context, docID string, files []string, srcDir, dstDir string) error {
	_, sftpc, err := t.conn()
	if err != nil {
		return err
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.downloadFile(sftpc, path.Join(srcDir, rel), filepath.Join(dstDir, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("device: download %s of %s: %w", rel, docID, err)
		}
	}
	return nil
}

func (t *SSHTransport) downloadFile(sftpc *sftp.Client, remotePath, localPath string) error {
	src, err := sftpc.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := utils.EnsureParent(localPath); err != nil {
		return err
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Sync()
}

func (t *SSHTransport) Close() error {
	t.mu.Lock()
	client, sftpc := t.client, t.sftpc
	t.client, t.sftpc = nil, nil
	t.mu.Unlock()

	var err error
	if sftpc != nil {
		err = sftpc.Close()
	}
	if client != nil {
		if cerr := client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// relPath turns an absolute sftp path into a slash-relative path under root.
func relPath(root, p string) (string, error) {
	root = path.Clean(root)
	p = path.Clean(p)
	if !strings.HasPrefix(p, root+"/") {
		return "", fmt.Errorf("%s not under %s", p, root)
	}
	return strings.TrimPrefix(p, root+"/"), nil
}
