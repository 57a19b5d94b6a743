package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gpusweep/internal/sshkey"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0600)
}

func TestNewSSH(t *testing.T) {
	dir := t.TempDir()
	kp, err := sshkey.LoadOrGenerate(filepath.Join(dir, "id_rsa"))
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	runner, err := NewSSH(Config{
		User:           "Dell",
		PrivateKeyPath: kp.PrivateKeyPath,
		CommandTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSSH() error = %v", err)
	}
	if runner.user != "Dell" {
		t.Errorf("user = %q, want Dell", runner.user)
	}
	if runner.portWaitTimeout != 5*time.Minute {
		t.Errorf("portWaitTimeout default = %v, want 5m", runner.portWaitTimeout)
	}
}

func TestNewSSHMissingKey(t *testing.T) {
	_, err := NewSSH(Config{
		User:           "Dell",
		PrivateKeyPath: filepath.Join(t.TempDir(), "nope"),
	})
	if err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestNewSSHGarbageKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_rsa")
	if err := writeFile(keyPath, "not a key"); err != nil {
		t.Fatal(err)
	}

	_, err := NewSSH(Config{User: "Dell", PrivateKeyPath: keyPath})
	if err == nil {
		t.Error("expected error for unparseable key file")
	}
}

func TestEscapeNewlines(t *testing.T) {
	if got := escapeNewlines("a\nb\nc"); got != "a\\nb\\nc" {
		t.Errorf("escapeNewlines() = %q", got)
	}
	if got := escapeNewlines("plain"); got != "plain" {
		t.Errorf("escapeNewlines() = %q", got)
	}
}
