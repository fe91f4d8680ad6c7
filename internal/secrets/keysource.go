package secrets

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvPassphrase overrides the machine-id as the source of the file key.
const EnvPassphrase = "SPELLCAST_SECRETS_PASSPHRASE"

const machineIDPath = "/etc/machine-id"

// Hooks for tests.
var (
	keySourceGetenv        = os.Getenv
	keySourceReadFile      = os.ReadFile
	keySourceUserConfigDir = os.UserConfigDir
	keySourceMkdirAll      = os.MkdirAll
	defaultKeySource       = DefaultKeySource
)

// DefaultKeySource returns a 32-byte key from EnvPassphrase or, on Linux,
// the first line of /etc/machine-id.
func DefaultKeySource() ([]byte, error) {
	if s := keySourceGetenv(EnvPassphrase); s != "" {
		return DeriveKey(s), nil
	}
	b, err := keySourceReadFile(machineIDPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: set %s or ensure %s exists: %w", EnvPassphrase, machineIDPath, err)
	}
	id, _, _ := strings.Cut(strings.TrimSpace(string(b)), "\n")
	if id == "" {
		return nil, errors.New("secrets: machine-id is empty")
	}
	return DeriveKey(id), nil
}

// DeriveKey hashes passphrase with a fixed salt into a 32-byte key.
func DeriveKey(passphrase string) []byte {
	const salt = "spellcast-secrets-v1"
	h := sha256.Sum256([]byte(salt + passphrase))
	return h[:]
}

// DefaultPath returns UserConfigDir/spellcast/.secrets, creating the directory.
func DefaultPath() (string, error) {
	base, err := keySourceUserConfigDir()
	if err != nil {
		return "", fmt.Errorf("secrets dir: %w", err)
	}
	dir := filepath.Join(base, "spellcast")
	if err := keySourceMkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("secrets dir mkdir: %w", err)
	}
	return filepath.Join(dir, ".secrets"), nil
}
