package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jhoicas/Fiscal-api/pkg/fsutil"
)

// jsonFile serializa lecturas y escrituras de un documento JSON pequeño.
// Cada update lee, modifica y reescribe con rename atómico.
type jsonFile[T any] struct {
	path string
	mu   sync.Mutex
}

func newJSONFile[T any](path string) (*jsonFile[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: crear directorio de %s: %w", filepath.Base(path), err)
	}
	return &jsonFile[T]{path: path}, nil
}

// load devuelve el valor cero de T si el archivo no existe.
func (f *jsonFile[T]) load() (T, error) {
	var v T
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return v, fmt.Errorf("storage: leer %s: %w", filepath.Base(f.path), err)
	}
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("storage: %s corrompido: %w", filepath.Base(f.path), err)
	}
	return v, nil
}

func (f *jsonFile[T]) read() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *jsonFile[T]) update(fn func(*T) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.load()
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: serializar %s: %w", filepath.Base(f.path), err)
	}
	if err := fsutil.WriteFile(f.path, raw, 0o644); err != nil {
		return fmt.Errorf("storage: escribir %s: %w", filepath.Base(f.path), err)
	}
	return nil
}
