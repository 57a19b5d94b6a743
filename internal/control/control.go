package control

import (
	"context"
	"time"
)

// Runner executes commands on remote hosts and retrieves files from them.
// Implementations are synchronous; callers decide what a failure means
// (the sweep deliberately continues past non-zero exits).
type Runner interface {
	// Run executes a command on the remote host
	Run(ctx context.Context, host, command string) error

	// Collect copies a remote file to the local machine
	Collect(host, remotePath, localPath string) error
}

// Config defines configuration for creating runners
type Config struct {
	User           string
	PrivateKeyPath string

	// CommandTimeout bounds a single remote command; 0 means unbounded
	CommandTimeout time.Duration

	// PortWaitTimeout bounds the wait for the SSH port before each command.
	// The setup sequence reboots the host, so every command may have to
	// wait for sshd to come back.
	PortWaitTimeout time.Duration

	// DialTimeout bounds the SSH handshake itself
	DialTimeout time.Duration
}

// NewRunner creates a new runner based on the config
func NewRunner(config Config) (Runner, error) {
	// For now, only SSH is supported
	return NewSSH(config)
}
