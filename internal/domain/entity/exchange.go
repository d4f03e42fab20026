package entity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// EndpointBinding identifica un autorizador: UF y ambiente. Es la clave de los
// registros de clientes SOAP; nunca se arma como string concatenado.
type EndpointBinding struct {
	UF          string
	Environment nfe.Environment
}

func (b EndpointBinding) String() string {
	return fmt.Sprintf("%s/%s", b.UF, b.Environment)
}

// NSUZero es el cursor inicial de la distribución DF-e.
const NSUZero = "000000000000000"

// CursorKey identifica un cursor NSU.
type CursorKey struct {
	TaxID       string
	Environment nfe.Environment
}

func (k CursorKey) String() string {
	return fmt.Sprintf("%s/%s", k.TaxID, k.Environment)
}

// NSUCursor es la posición de sincronización de la caja de entrada DF-e.
// Invariante: LastNSU <= MaxNSU y ambos nunca retroceden.
type NSUCursor struct {
	Key       CursorKey
	LastNSU   string
	MaxNSU    string
	UpdatedAt time.Time
}

// NewNSUCursor devuelve el cursor inicial para la clave.
func NewNSUCursor(key CursorKey) NSUCursor {
	return NSUCursor{Key: key, LastNSU: NSUZero, MaxNSU: NSUZero}
}

// Advance aplica los valores devueltos por la SEFAZ respetando monotonicidad.
// Un ultNSU menor que el actual se ignora; maxNSU nunca queda por debajo de lastNSU.
func (c NSUCursor) Advance(lastNSU, maxNSU string, now time.Time) (NSUCursor, error) {
	next := c
	if lastNSU != "" {
		cmp, err := CompareNSU(lastNSU, c.LastNSU)
		if err != nil {
			return c, err
		}
		if cmp > 0 {
			next.LastNSU = PadNSU(lastNSU)
		}
	}
	if maxNSU != "" {
		cmp, err := CompareNSU(maxNSU, next.MaxNSU)
		if err != nil {
			return c, err
		}
		if cmp > 0 {
			next.MaxNSU = PadNSU(maxNSU)
		}
	}
	if cmp, _ := CompareNSU(next.MaxNSU, next.LastNSU); cmp < 0 {
		next.MaxNSU = next.LastNSU
	}
	next.UpdatedAt = now
	return next, nil
}

// Done indica que no hay más documentos pendientes (lastNSU >= maxNSU).
func (c NSUCursor) Done() bool {
	cmp, err := CompareNSU(c.LastNSU, c.MaxNSU)
	return err == nil && cmp >= 0
}

// CompareNSU compara dos NSU numéricamente (-1, 0, 1).
func CompareNSU(a, b string) (int, error) {
	x, ok := new(big.Int).SetString(orZero(a), 10)
	if !ok {
		return 0, fmt.Errorf("nsu inválido %q", a)
	}
	y, ok := new(big.Int).SetString(orZero(b), 10)
	if !ok {
		return 0, fmt.Errorf("nsu inválido %q", b)
	}
	return x.Cmp(y), nil
}

// PadNSU completa con ceros a la izquierda hasta 15 dígitos.
func PadNSU(nsu string) string {
	if len(nsu) >= 15 {
		return nsu
	}
	return NSUZero[:15-len(nsu)] + nsu
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// CacheEntry describe un XML en la caché local.
type CacheEntry struct {
	Key     string
	Path    string
	ModTime time.Time
	Size    int64
}
