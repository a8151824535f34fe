// Package localsource resolves secrets from the local filesystem mount:
// one file per key, under <mount>/<category>/<name>/.
package localsource

import (
	"os"
	"path/filepath"

	"github.com/vaultmesh/seccache/internal/secretname"
)

// Read loads every key file under <mountDir>/<category>/<name>/ into a
// contents map. A missing or empty directory is not an error: it returns
// (nil, nil), matching the local-then-registry fallback the cache's
// resolution policy relies on. Subdirectories and files whose name fails
// key-name validation are silently skipped, the same way the original
// implementation skips anything that isn't a well-formed key file.
func Read(mountDir, category, name string) (map[string][]byte, error) {
	dir := filepath.Join(mountDir, category, name)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var contents map[string][]byte
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key := entry.Name()
		if secretname.ValidateKey(key) != nil {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, key))
		if err != nil {
			continue
		}
		if len(data) == 0 {
			continue
		}

		if contents == nil {
			contents = make(map[string][]byte)
		}
		contents[key] = data
	}

	return contents, nil
}
