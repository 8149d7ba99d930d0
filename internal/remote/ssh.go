package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHConfig struct {
	Host string
	Port int
	User string
	// KeyPath is a private key file. When empty the ssh agent and the
	// default identities in ~/.ssh are tried.
	KeyPath        string
	KnownHostsPath string
	ConnectTimeout time.Duration
}

func (c SSHConfig) target() string {
	return fmt.Sprintf("%s@%s", c.User, c.Host)
}

func (c SSHConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHTransport runs commands over a single lazily dialed ssh connection.
// Every Run and Upload opens its own session.
type SSHTransport struct {
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

var _ Transport = (*SSHTransport)(nil)

func NewSSHTransport(cfg SSHConfig) *SSHTransport {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &SSHTransport{cfg: cfg}
}

func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// Preflight verifies that the robot accepts our credentials by running a
// no-op command.
func (t *SSHTransport) Preflight(ctx context.Context) error {
	if _, err := Check(ctx, t, "true"); err != nil {
		return err
	}
	slog.Info("ssh preflight succeeded", "target", t.cfg.target(), "port", t.cfg.Port)
	return nil
}

func (t *SSHTransport) Run(ctx context.Context, argv ...string) (Result, error) {
	return t.exec(ctx, "run", ShellJoin(argv), nil)
}

func (t *SSHTransport) Upload(ctx context.Context, content []byte, remotePath string) error {
	command := "cat > " + ShellQuote(remotePath)
	res, err := t.exec(ctx, "upload", command, content)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &TransportError{
			Op:       "upload",
			Command:  command,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
		}
	}
	slog.Debug("uploaded file", "remote_path", remotePath, "bytes", len(content))
	return nil
}

// closeWait bounds how long a cancelled command may keep flushing output.
const closeWait = 2 * time.Second

// syncBuffer is written by the session's copy goroutines and may be read
// before they stop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (t *SSHTransport) exec(ctx context.Context, op, command string, stdin []byte) (Result, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, &TransportError{Op: op, Command: command, Err: fmt.Errorf("error opening session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr syncBuffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	slog.Debug("running remote command", "target", t.cfg.target(), "command", command)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		select {
		case <-done:
		case <-time.After(closeWait):
		}
		res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
		return res, &TransportError{Op: op, Command: command, Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: -1, Err: ctx.Err()}
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		res.ExitCode = -1
		return res, &TransportError{Op: op, Command: command, Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: -1, Err: err}
	}
	return res, nil
}

func (t *SSHTransport) connect(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	auth, err := t.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := acceptNewHostKeys(t.cfg.KnownHostsPath)
	if err != nil {
		return nil, &TransportError{Op: "dial", Command: t.cfg.addr(), Err: err}
	}

	config := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.cfg.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.addr())
	if err != nil {
		return nil, &TransportError{Op: "dial", Command: t.cfg.addr(), Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.cfg.addr(), config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthenticationError{Target: t.cfg.target(), Detail: err.Error(), KeyHint: t.keyHint()}
		}
		return nil, &TransportError{Op: "dial", Command: t.cfg.addr(), Err: err}
	}

	t.client = ssh.NewClient(sshConn, chans, reqs)
	slog.Info("ssh connection established", "target", t.cfg.target(), "port", t.cfg.Port)
	return t.client, nil
}

func (t *SSHTransport) keyHint() string {
	if t.cfg.KeyPath == "" {
		return ""
	}
	return t.cfg.KeyPath + ".pub"
}

func (t *SSHTransport) authMethods() ([]ssh.AuthMethod, error) {
	if t.cfg.KeyPath != "" {
		signer, err := loadSigner(t.cfg.KeyPath)
		if err != nil {
			return nil, &AuthenticationError{Target: t.cfg.target(), Detail: err.Error(), KeyHint: t.keyHint()}
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			slog.Debug("ssh agent unavailable", "socket", sock, "error", err)
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	var signers []ssh.Signer
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_rsa"} {
			signer, err := loadSigner(filepath.Join(home, ".ssh", name))
			if err != nil {
				continue
			}
			signers = append(signers, signer)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, &AuthenticationError{Target: t.cfg.target(), Detail: "no ssh key, agent or default identity available"}
	}
	return methods, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading ssh key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("ssh key %s is passphrase protected, load it into ssh-agent instead", path)
		}
		return nil, fmt.Errorf("error parsing ssh key %s: %w", path, err)
	}
	return signer, nil
}

func defaultKnownHostsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error resolving home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// acceptNewHostKeys verifies host keys against a known_hosts file. Unknown
// hosts are recorded on first contact; a changed key is rejected.
func acceptNewHostKeys(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		var err error
		if path, err = defaultKnownHostsPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("error creating known hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("error opening known hosts file %s: %w", path, err)
	}
	f.Close()

	verify, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("error loading known hosts file %s: %w", path, err)
	}

	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return err
		}

		mu.Lock()
		defer mu.Unlock()

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("error recording host key for %s: %w", hostname, err)
		}
		defer f.Close()

		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("error recording host key for %s: %w", hostname, err)
		}
		slog.Info("recorded new host key", "host", hostname, "known_hosts", path, "type", key.Type())
		return nil
	}, nil
}
