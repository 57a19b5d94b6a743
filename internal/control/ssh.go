package control

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gpusweep/internal/logging"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSH runs commands over per-command SSH connections. Nothing is kept open
// between commands: the CUDA setup sequence reboots the host twice, and a
// persistent session would not survive either reboot.
type SSH struct {
	user            string
	signer          ssh.Signer
	commandTimeout  time.Duration
	portWaitTimeout time.Duration
	dialTimeout     time.Duration
}

// escapeNewlines escapes newline characters for proper log formatting
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// safeClose safely closes a resource and logs any errors
func safeClose(name string, closer func() error) {
	if err := closer(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// NewSSH creates a runner authenticating with the key at PrivateKeyPath
func NewSSH(config Config) (*SSH, error) {
	keyBytes, err := os.ReadFile(config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	portWait := config.PortWaitTimeout
	if portWait <= 0 {
		portWait = 5 * time.Minute
	}
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	return &SSH{
		user:            config.User,
		signer:          signer,
		commandTimeout:  config.CommandTimeout,
		portWaitTimeout: portWait,
		dialTimeout:     dialTimeout,
	}, nil
}

// dial waits for the SSH port and opens a fresh client connection
func (s *SSH) dial(host string) (*ssh.Client, error) {
	if err := waitForSSH(host, s.portWaitTimeout); err != nil {
		return nil, fmt.Errorf("SSH not available after timeout: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User: s.user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(s.signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Hosts are ephemeral, never seen twice
		Timeout:         s.dialTimeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(host, "22"), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	return client, nil
}

// Run executes a command on the remote host over a fresh connection
func (s *SSH) Run(ctx context.Context, host, command string) error {
	client, err := s.dial(host)
	if err != nil {
		return err
	}
	defer safeClose("SSH client", client.Close)

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logging.Logger().Debug("Executing command",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", host),
		zap.String("user", s.user))

	err = s.runSession(ctx, session, client, command)

	logging.Logger().Info("Command executed",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", host),
		zap.String("stdout", escapeNewlines(logging.Truncate(stdout.String()))),
		zap.String("stderr", escapeNewlines(logging.Truncate(stderr.String()))),
		zap.Bool("success", err == nil))

	return err
}

// runSession runs the command, enforcing the configured timeout. On timeout
// the underlying connection is torn down to unblock session.Run.
func (s *SSH) runSession(ctx context.Context, session *ssh.Session, client *ssh.Client, command string) error {
	if s.commandTimeout <= 0 && ctx.Done() == nil {
		return session.Run(command)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	var timeoutCh <-chan time.Time
	if s.commandTimeout > 0 {
		timer := time.NewTimer(s.commandTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-done:
		return err
	case <-timeoutCh:
		safeClose("SSH client", client.Close)
		return fmt.Errorf("command timed out after %v", s.commandTimeout)
	case <-ctx.Done():
		safeClose("SSH client", client.Close)
		return ctx.Err()
	}
}

// Collect copies a single remote file to the local machine using SFTP
func (s *SSH) Collect(host, remotePath, localPath string) error {
	client, err := s.dial(host)
	if err != nil {
		return err
	}
	defer safeClose("SSH client", client.Close)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer safeClose("SFTP client", sftpClient.Close)

	remoteInfo, err := sftpClient.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("failed to stat remote path: %w", err)
	}
	if remoteInfo.IsDir() {
		return fmt.Errorf("remote path %s is a directory", remotePath)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer safeClose("remote file", remoteFile.Close)

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer safeClose("local file", localFile.Close)

	bytesWritten, err := localFile.ReadFrom(remoteFile)
	if err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	logging.Logger().Info("File collected using SFTP",
		zap.String("remote_path", remotePath),
		zap.String("local_path", localPath),
		zap.String("host", host),
		zap.Int64("size_bytes", bytesWritten))

	return nil
}

// waitForSSH waits for SSH port to become available with timeout
func waitForSSH(host string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, "22"), 5*time.Second)
		if err == nil {
			if closeErr := conn.Close(); closeErr != nil {
				logging.Logger().Debug("failed to close connection test",
					zap.String("host", host),
					zap.Error(closeErr))
			}
			return nil
		}

		// Wait 10 seconds before next attempt
		time.Sleep(10 * time.Second)
	}

	return fmt.Errorf("SSH port not available after %v timeout", timeout)
}
