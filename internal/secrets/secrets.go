// Package secrets keeps provider API keys out of the config file, in an
// AES-GCM encrypted file under the user config directory.
package secrets

import "errors"

// Store stores and retrieves secrets by name, e.g. OPENAI_API_KEY.
type Store interface {
	// Get returns the secret for name, or ErrNotFound.
	Get(name string) (string, error)
	// Set stores the secret, overwriting any previous value.
	Set(name, value string) error
	// Delete removes the secret. Deleting a missing name is not an error.
	Delete(name string) error
	// Names lists stored names in sorted order.
	Names() ([]string, error)
}

// ErrNotFound is returned when a secret is not found.
var ErrNotFound = errors.New("secret not found")

// DefaultStore returns the file store at DefaultPath, keyed by DefaultKeySource.
func DefaultStore() (Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	key, err := defaultKeySource()
	if err != nil {
		return nil, err
	}
	return NewFileStore(path, key)
}

// Lookup returns a key lookup that prefers getenv and falls back to store.
// A nil store means environment only; store errors read as unset.
func Lookup(store Store, getenv func(string) string) func(string) string {
	return func(name string) string {
		if getenv != nil {
			if v := getenv(name); v != "" {
				return v
			}
		}
		if store == nil {
			return ""
		}
		v, err := store.Get(name)
		if err != nil {
			return ""
		}
		return v
	}
}
