// Package invoice holds the document-generation collaborators: a
// renderer turning a transaction snapshot into bytes, and a storage
// backend returning a URL for them.
package invoice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/malipo/orchestrator/internal/domain"
)

// Renderer produces an invoice document for a settled transaction.
type Renderer interface {
	Render(tx *domain.Transaction) ([]byte, error)
}

// Storage persists rendered documents and returns their public URL.
type Storage interface {
	Store(data []byte, path string) (string, error)
}

// LocalStorage writes documents under a directory and maps them to URLs
// under a base URL.
type LocalStorage struct {
	Dir     string
	BaseURL string
}

func NewLocalStorage(dir, baseURL string) *LocalStorage {
	return &LocalStorage{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *LocalStorage) Store(data []byte, path string) (string, error) {
	full := filepath.Join(s.Dir, filepath.Clean("/"+path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return s.BaseURL + "/" + strings.TrimPrefix(path, "/"), nil
}
