package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Hooks for tests.
var (
	fileWriteFile  = os.WriteFile
	fileRandReader io.Reader = rand.Reader
)

// FileStore keeps every secret in one JSON map sealed with AES-256-GCM. The
// file is nonce || ciphertext.
type FileStore struct {
	mu   sync.Mutex
	path string
	gcm  cipher.AEAD
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store at path sealed with key, which must be 32 bytes.
func NewFileStore(path string, key []byte) (*FileStore, error) {
	if len(key) != 32 {
		return nil, errors.New("secrets: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, gcm: gcm}, nil
}

func (f *FileStore) Get(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := m[name]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStore) Set(name, value string) error {
	if name == "" {
		return errors.New("secrets: name must not be empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	m[name] = value
	return f.save(m)
}

func (f *FileStore) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return nil
	}
	delete(m, name)
	return f.save(m)
}

func (f *FileStore) Names() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names, nil
}

// load returns an empty map when the file does not exist. A file sealed with
// another key fails to decrypt rather than being overwritten.
func (f *FileStore) load() (map[string]string, error) {
	m := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("secrets read: %w", err)
	}
	n := f.gcm.NonceSize()
	if len(data) < n {
		return nil, errors.New("secrets file truncated")
	}
	plain, err := f.gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("secrets decrypt: %w", err)
	}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("secrets parse: %w", err)
	}
	return m, nil
}

func (f *FileStore) save(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("secrets mkdir: %w", err)
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return err
	}
	nonce := make([]byte, f.gcm.NonceSize())
	if _, err := io.ReadFull(fileRandReader, nonce); err != nil {
		return fmt.Errorf("secrets nonce: %w", err)
	}
	return fileWriteFile(f.path, f.gcm.Seal(nonce, nonce, plain, nil), 0600)
}
