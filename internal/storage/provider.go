// Package storage defines the bundle file-system abstraction.
package storage

// Provider is the interface for bundle file operations. All paths are
// slash-separated and relative to the bundle root.
type Provider interface {
	// Root returns the absolute bundle root directory.
	Root() string
	// Glob returns the files under dir matching pattern, sorted.
	// A missing dir yields an error satisfying errors.Is(err, fs.ErrNotExist).
	Glob(dir, pattern string) ([]string, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
