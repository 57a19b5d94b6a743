package sshkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyPair represents an SSH key pair on disk
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string
}

// LoadOrGenerate loads the private key at privateKeyPath, generating a new
// RSA pair there if none exists. The public key lives alongside with a
// ".pub" suffix.
func LoadOrGenerate(privateKeyPath string) (*KeyPair, error) {
	publicKeyPath := privateKeyPath + ".pub"

	if _, err := os.Stat(privateKeyPath); err == nil {
		return loadExisting(privateKeyPath, publicKeyPath)
	}

	if dir := filepath.Dir(privateKeyPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %v", err)
		}
	}

	return generateNewKeyPair(privateKeyPath, publicKeyPath)
}

// loadExisting reads an existing pair, regenerating the public half if missing
func loadExisting(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	if _, err := os.Stat(publicKeyPath); err == nil {
		publicKeyBytes, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read existing public key: %v", err)
		}
		return &KeyPair{
			PrivateKeyPath: privateKeyPath,
			PublicKeyPath:  publicKeyPath,
			PublicKey:      string(publicKeyBytes),
		}, nil
	}

	privateKeyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %v", err)
	}

	block, _ := pem.Decode(privateKeyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	return writePublicKey(&privateKey.PublicKey, privateKeyPath, publicKeyPath)
}

// generateNewKeyPair generates a completely new SSH key pair
func generateNewKeyPair(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %v", err)
	}

	privateKeyFile, err := os.Create(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create private key file: %v", err)
	}
	defer privateKeyFile.Close()

	privateKeyPEM := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}

	if err := pem.Encode(privateKeyFile, privateKeyPEM); err != nil {
		return nil, fmt.Errorf("failed to encode private key: %v", err)
	}

	if err := os.Chmod(privateKeyPath, 0600); err != nil {
		return nil, fmt.Errorf("failed to set private key permissions: %v", err)
	}

	return writePublicKey(&privateKey.PublicKey, privateKeyPath, publicKeyPath)
}

// writePublicKey writes the OpenSSH form of the public key next to the private one
func writePublicKey(publicKey *rsa.PublicKey, privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	sshPublicKey, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %v", err)
	}

	publicKeyString := string(ssh.MarshalAuthorizedKey(sshPublicKey))
	if err := os.WriteFile(publicKeyPath, []byte(publicKeyString), 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %v", err)
	}

	return &KeyPair{
		PrivateKeyPath: privateKeyPath,
		PublicKeyPath:  publicKeyPath,
		PublicKey:      publicKeyString,
	}, nil
}

// Cleanup removes the generated key files
func (kp *KeyPair) Cleanup() error {
	if err := os.Remove(kp.PrivateKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove private key: %v", err)
	}
	if err := os.Remove(kp.PublicKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove public key: %v", err)
	}
	return nil
}
