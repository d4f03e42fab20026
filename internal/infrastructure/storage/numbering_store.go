package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/repository"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// NumberingFileName es el archivo de numeración dentro del directorio de datos.
const NumberingFileName = "numeracao.json"

// MaxNumber es el mayor nNF admitido (9 dígitos).
const MaxNumber = 999999999

// NumberingStore guarda en numeracao.json el próximo número por emisor, modelo,
// serie y ambiente.
type NumberingStore struct {
	file *jsonFile[map[string]int]
}

var _ repository.NumberingRepository = (*NumberingStore)(nil)

// NewNumberingStore usa {dataDir}/numeracao.json.
func NewNumberingStore(dataDir string) (*NumberingStore, error) {
	f, err := newJSONFile[map[string]int](filepath.Join(dataDir, NumberingFileName))
	if err != nil {
		return nil, err
	}
	return &NumberingStore{file: f}, nil
}

func numberingKey(taxID, model string, series int, env nfe.Environment) string {
	return fmt.Sprintf("%s/%s/%03d/%s", taxID, model, series, env)
}

// Next reserva y devuelve el número siguiente; la primera emisión de una serie es 1.
func (s *NumberingStore) Next(_ context.Context, taxID, model string, series int, env nfe.Environment) (int, error) {
	if series < 0 || series > 999 {
		return 0, domain.NewValidationError("storage.Numbering.Next", fmt.Sprintf("serie fuera de rango: %d", series), nil)
	}
	var number int
	err := s.file.update(func(m *map[string]int) error {
		if *m == nil {
			*m = map[string]int{}
		}
		key := numberingKey(taxID, model, series, env)
		next := (*m)[key]
		if next < 1 {
			next = 1
		}
		if next > MaxNumber {
			return domain.NewValidationError("storage.Numbering.Next", "numeración agotada para la serie", nil)
		}
		number = next
		(*m)[key] = next + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

// Reserve adelanta la serie para que el próximo número sea al menos next
// (p. ej. al migrar desde otro emisor). Nunca retrocede.
func (s *NumberingStore) Reserve(_ context.Context, taxID, model string, series int, env nfe.Environment, next int) error {
	if next < 1 || next > MaxNumber {
		return domain.NewValidationError("storage.Numbering.Reserve", fmt.Sprintf("número inválido: %d", next), nil)
	}
	return s.file.update(func(m *map[string]int) error {
		if *m == nil {
			*m = map[string]int{}
		}
		key := numberingKey(taxID, model, series, env)
		if (*m)[key] < next {
			(*m)[key] = next
		}
		return nil
	})
}
