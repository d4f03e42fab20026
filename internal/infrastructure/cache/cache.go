// Package cache guarda en disco los XML obtenidos de la SEFAZ (distribución DF-e
// y consultas por chave) y aplica la política de expulsión por edad y tamaño.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/fsutil"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
)

// EvictionReport resume una pasada de Evict.
type EvictionReport struct {
	Scanned        int
	RemovedByAge   int
	RemovedBySize  int
	FreedBytes     int64
	RemainingBytes int64
	Remaining      int
}

// Removed es el total de archivos eliminados.
func (r EvictionReport) Removed() int { return r.RemovedByAge + r.RemovedBySize }

// DocumentCache es un directorio plano de XML indexado por nombre de archivo.
type DocumentCache struct {
	dir     string
	metrics *metrics.Registry
	log     zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex // serializa Evict contra Put y protege el uso contabilizado
	bytes int64
	files int
}

// New crea el directorio si no existe.
func New(dir string, m *metrics.Registry, log zerolog.Logger) (*DocumentCache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, domain.NewConfigurationError("cache.New", "directorio de caché vacío", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: crear directorio: %w", err)
	}
	c := &DocumentCache{
		dir:     dir,
		metrics: m,
		log:     log.With().Str("component", "cache").Logger(),
		now:     time.Now,
	}
	// Único recorrido completo fuera de Evict; Put ajusta el uso incrementalmente.
	total, n, err := c.Usage()
	if err != nil {
		return nil, err
	}
	c.bytes, c.files = total, n
	c.publishUsage()
	return c, nil
}

// Dir devuelve el directorio raíz.
func (c *DocumentCache) Dir() string { return c.dir }

// SanitizeKey reduce la clave a un nombre de archivo seguro: sin separadores,
// sin punto inicial y con caracteres fuera de [A-Za-z0-9._-] reemplazados por '_'.
func SanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" || strings.Trim(name, "_") == "" {
		return "", fmt.Errorf("%w: chave de cache %q", domain.ErrInvalidInput, key)
	}
	return name, nil
}

// DocumentKey es el nombre con el que se guarda un documento con chave conocida.
func DocumentKey(accessKey string) string { return "NFe_" + accessKey + ".xml" }

// DistributionKey es el nombre de un documento de distribución sin chave.
func DistributionKey(nsu string) string { return "DFE_" + nsu + ".xml" }

func (c *DocumentCache) path(key string) (string, string, error) {
	name, err := SanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return name, filepath.Join(c.dir, name), nil
}

// Put escribe en un temporal del mismo directorio y lo renombra. Un lector nunca
// ve un archivo a medias; repetir Put con el mismo contenido es inocuo.
func (c *DocumentCache) Put(key string, data []byte) error {
	name, dst, err := c.path(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var prev int64
	existed := false
	if st, err := os.Stat(dst); err == nil && st.Mode().IsRegular() {
		prev, existed = st.Size(), true
	}
	if err := fsutil.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("cache: guardar %s: %w", name, err)
	}
	c.bytes += int64(len(data)) - prev
	if !existed {
		c.files++
	}
	c.log.Debug().Str("archivo", name).Int("bytes", len(data)).Msg("documento en caché")
	c.publishUsage()
	return nil
}

// Size devuelve el uso contabilizado (bytes y archivos) sin recorrer el directorio.
func (c *DocumentCache) Size() (int64, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes, c.files
}

// PutIfAbsent escribe solo si la clave no existe. Devuelve true si escribió.
func (c *DocumentCache) PutIfAbsent(key string, data []byte) (bool, error) {
	if c.Has(key) {
		return false, nil
	}
	if err := c.Put(key, data); err != nil {
		return false, err
	}
	return true, nil
}

// Get devuelve el contenido; ok es false si la clave no está en caché.
func (c *DocumentCache) Get(key string) ([]byte, bool, error) {
	_, p, err := c.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: leer: %w", err)
	}
	return data, true, nil
}

// Has indica si la clave existe.
func (c *DocumentCache) Has(key string) bool {
	_, p, err := c.path(key)
	if err != nil {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// Entries lista los archivos en caché (sin temporales), del más antiguo al más nuevo.
func (c *DocumentCache) Entries() ([]entity.CacheEntry, error) {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("cache: listar: %w", err)
	}
	out := make([]entity.CacheEntry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || fsutil.IsTemp(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Borrado entre ReadDir y Info.
			continue
		}
		out = append(out, entity.CacheEntry{
			Key:     d.Name(),
			Path:    filepath.Join(c.dir, d.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Key < out[j].Key
		}
		return out[i].ModTime.Before(out[j].ModTime)
	})
	return out, nil
}

// Usage devuelve bytes y cantidad de archivos en caché.
func (c *DocumentCache) Usage() (int64, int, error) {
	entries, err := c.Entries()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, len(entries), nil
}

// ── Expulsión ────────────────────────────────────────────────────────────────

// Evict elimina primero los archivos con más de maxAgeDays días y después los
// más antiguos por mtime hasta que el total quede en maxTotalSizeMB o menos.
// Un límite <= 0 desactiva ese criterio.
func (c *DocumentCache) Evict(maxAgeDays, maxTotalSizeMB int) (EvictionReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.Entries()
	if err != nil {
		return EvictionReport{}, err
	}
	rep := EvictionReport{Scanned: len(entries)}

	kept := entries[:0]
	if maxAgeDays > 0 {
		cutoff := c.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
		for _, e := range entries {
			if e.ModTime.Before(cutoff) {
				if err := c.remove(e); err != nil {
					return rep, err
				}
				rep.RemovedByAge++
				rep.FreedBytes += e.Size
				continue
			}
			kept = append(kept, e)
		}
	} else {
		kept = entries
	}

	var total int64
	for _, e := range kept {
		total += e.Size
	}
	if maxTotalSizeMB > 0 {
		limit := int64(maxTotalSizeMB) * 1024 * 1024
		for len(kept) > 0 && total > limit {
			e := kept[0]
			if err := c.remove(e); err != nil {
				return rep, err
			}
			kept = kept[1:]
			total -= e.Size
			rep.RemovedBySize++
			rep.FreedBytes += e.Size
		}
	}
	rep.Remaining = len(kept)
	rep.RemainingBytes = total

	c.metrics.AddEvicted("idade", rep.RemovedByAge)
	c.metrics.AddEvicted("tamanho", rep.RemovedBySize)
	c.bytes, c.files = total, len(kept)
	c.publishUsage()
	if rep.Removed() > 0 {
		c.log.Info().
			Int("por_idade", rep.RemovedByAge).
			Int("por_tamanho", rep.RemovedBySize).
			Int64("liberados", rep.FreedBytes).
			Msg("caché depurada")
	}
	return rep, nil
}

func (c *DocumentCache) remove(e entity.CacheEntry) error {
	if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: remover %s: %w", e.Key, err)
	}
	return nil
}

// publishUsage exporta el uso contabilizado; requiere c.mu o un cache aún no compartido.
func (c *DocumentCache) publishUsage() {
	c.metrics.SetCacheUsage(c.bytes, c.files)
}
