// Package lockfile implements gametl.lock, a lock file that tracks MD5
// checksums of source game files per target language. This enables
// incremental runs: files already translated from identical content are
// skipped, saving tokens and time.
//
// The lock file is stored in the output directory as gametl.lock.
package lockfile

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// LockFileName is the default lock file name.
const LockFileName = "gametl.lock"

// Version is the lock file format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// LockFile represents the gametl.lock file structure.
type LockFile struct {
	Version   int                          `yaml:"version"`
	Checksums map[string]map[string]string `yaml:"checksums"` // language -> file -> md5

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads a lock file from the given directory.
// Returns an empty lock file if the file doesn't exist.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)
	lf := &LockFile{
		Version:   Version,
		Checksums: make(map[string]map[string]string),
		path:      path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	lf.path = path

	if lf.Checksums == nil {
		lf.Checksums = make(map[string]map[string]string)
	}

	return lf, nil
}

// Save writes the lock file to disk, creating its directory if needed.
func (lf *LockFile) Save() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(lf.path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(lf.path), err)
	}
	if err := os.WriteFile(lf.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}

	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Checksum operations
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of a string.
func Hash(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// FileKey builds the key of a game file from its path relative to the
// input directory, e.g. "data/Map001.json".
func FileKey(relPath string) string {
	return filepath.ToSlash(relPath)
}

// Content builds the string hashed for a file. Settings that change the
// output (model, width, prompt) are folded in so changing them retranslates.
func Content(data []byte, settings ...string) string {
	if len(settings) == 0 {
		return string(data)
	}
	return string(data) + "\x00" + strings.Join(settings, "\x00")
}

// IsChanged checks if a file has changed since its last translation into
// language. Returns true if the file is new or its content has changed.
func (lf *LockFile) IsChanged(language, key, content string) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	keys, ok := lf.Checksums[language]
	if !ok {
		return true
	}
	oldHash, ok := keys[key]
	if !ok {
		return true
	}
	return oldHash != Hash(content)
}

// Update records the checksum of a file after a complete translation.
func (lf *LockFile) Update(language, key, content string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.Checksums[language] == nil {
		lf.Checksums[language] = make(map[string]string)
	}
	lf.Checksums[language][key] = Hash(content)
}

// Forget drops the checksum of a file so the next run translates it again.
func (lf *LockFile) Forget(language, key string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if keys := lf.Checksums[language]; keys != nil {
		delete(keys, key)
	}
}

// Clean removes entries from the lock file that are no longer present in
// the current set of files. This prevents stale entries from accumulating.
func (lf *LockFile) Clean(language string, currentKeys []string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	existing := lf.Checksums[language]
	if existing == nil {
		return
	}

	valid := make(map[string]bool, len(currentKeys))
	for _, k := range currentKeys {
		valid[k] = true
	}

	for k := range existing {
		if !valid[k] {
			delete(existing, k)
		}
	}
}

// RemoveLanguage removes all checksums for a language.
func (lf *LockFile) RemoveLanguage(language string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	delete(lf.Checksums, language)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of languages and total files in the lock file.
func (lf *LockFile) Stats() (languages, files int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	languages = len(lf.Checksums)
	for _, m := range lf.Checksums {
		files += len(m)
	}
	return
}

// Languages returns the sorted list of languages.
func (lf *LockFile) Languages() []string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	langs := make([]string, 0, len(lf.Checksums))
	for l := range lf.Checksums {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// ---------------------------------------------------------------------------
// Human-readable summary
// ---------------------------------------------------------------------------

// Summary returns a human-readable summary string.
func (lf *LockFile) Summary() string {
	languages, files := lf.Stats()
	if languages == 0 {
		return "empty"
	}

	var parts []string
	for _, l := range lf.Languages() {
		lf.mu.Lock()
		n := len(lf.Checksums[l])
		lf.mu.Unlock()
		parts = append(parts, fmt.Sprintf("%s: %d files", l, n))
	}
	return fmt.Sprintf("%d languages, %d files (%s)", languages, files, strings.Join(parts, ", "))
}
