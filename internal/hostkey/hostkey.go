package hostkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const rsaKeyBits = 2048

// LoadOrGenerate returns the host key stored at path. When no file exists a
// new RSA key is generated and written with mode 0600. An existing file that
// does not parse is an error and is left untouched.
func LoadOrGenerate(path string, logger *slog.Logger) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse host key %s: %w", path, err)
		}
		logger.Info("loaded host key",
			slog.String("path", path),
			slog.String("fingerprint", ssh.FingerprintSHA256(signer.PublicKey())))
		return signer, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}

	keyPEM, err := Generate()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create host key directory: %w", err)
		}
	}
	// never clobber a key that appeared since the read
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create host key %s: %w", path, err)
	}
	if _, err := f.Write(keyPEM); err != nil {
		f.Close()
		return nil, fmt.Errorf("write host key %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close host key %s: %w", path, err)
	}

	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse generated host key: %w", err)
	}
	logger.Info("generated new host key",
		slog.String("path", path),
		slog.String("fingerprint", ssh.FingerprintSHA256(signer.PublicKey())))
	return signer, nil
}

// Generate creates a PEM encoded PKCS#1 RSA private key
func Generate() ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), nil
}
