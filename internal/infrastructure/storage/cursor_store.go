package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/domain/repository"
)

// CursorFileName es el archivo del cursor NSU dentro del directorio de datos.
const CursorFileName = "cursor.json"

type cursorRecord struct {
	UltNSU    string    `json:"ultNSU"`
	MaxNSU    string    `json:"maxNSU"`
	UpdatedAt time.Time `json:"atualizadoEm"`
}

// CursorStore persiste los cursores NSU en cursor.json, uno por CNPJ y ambiente.
type CursorStore struct {
	file *jsonFile[map[string]cursorRecord]
}

var _ repository.CursorRepository = (*CursorStore)(nil)

// NewCursorStore usa {dataDir}/cursor.json.
func NewCursorStore(dataDir string) (*CursorStore, error) {
	f, err := newJSONFile[map[string]cursorRecord](filepath.Join(dataDir, CursorFileName))
	if err != nil {
		return nil, err
	}
	return &CursorStore{file: f}, nil
}

func (s *CursorStore) Load(_ context.Context, key entity.CursorKey) (entity.NSUCursor, error) {
	all, err := s.file.read()
	if err != nil {
		return entity.NSUCursor{}, err
	}
	rec, ok := all[key.String()]
	if !ok {
		return entity.NewNSUCursor(key), nil
	}
	c := entity.NSUCursor{Key: key, LastNSU: entity.PadNSU(rec.UltNSU), MaxNSU: entity.PadNSU(rec.MaxNSU), UpdatedAt: rec.UpdatedAt}
	if rec.UltNSU == "" {
		c.LastNSU = entity.NSUZero
	}
	if rec.MaxNSU == "" {
		c.MaxNSU = c.LastNSU
	}
	return c, nil
}

// Save nunca retrocede: como el GREATEST del repositorio Postgres, cada NSU
// guardado es el mayor entre el registro previo y el nuevo.
func (s *CursorStore) Save(_ context.Context, c entity.NSUCursor) error {
	return s.file.update(func(all *map[string]cursorRecord) error {
		if *all == nil {
			*all = map[string]cursorRecord{}
		}
		next := cursorRecord{UltNSU: entity.PadNSU(c.LastNSU), MaxNSU: entity.PadNSU(c.MaxNSU), UpdatedAt: c.UpdatedAt}
		if prev, ok := (*all)[c.Key.String()]; ok {
			var err error
			if next.UltNSU, err = greatestNSU(prev.UltNSU, next.UltNSU); err != nil {
				return err
			}
			if next.MaxNSU, err = greatestNSU(prev.MaxNSU, next.MaxNSU); err != nil {
				return err
			}
		}
		(*all)[c.Key.String()] = next
		return nil
	})
}

func greatestNSU(prev, next string) (string, error) {
	if prev == "" {
		return next, nil
	}
	cmp, err := entity.CompareNSU(prev, next)
	if err != nil {
		return "", fmt.Errorf("storage: cursor: %w: %v", domain.ErrInvalidInput, err)
	}
	if cmp > 0 {
		return entity.PadNSU(prev), nil
	}
	return next, nil
}
