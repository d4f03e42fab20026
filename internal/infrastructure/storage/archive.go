// Package storage guarda en el sistema de archivos el ciclo de vida de los XML
// emitidos (pendentes, enviadas, falhas) y los estados JSON del servicio: el
// cursor NSU y la numeración por serie.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/pkg/fsutil"
)

// Folder es una carpeta del archivo de documentos emitidos.
type Folder string

const (
	FolderPending  Folder = "pendentes"
	FolderAccepted Folder = "enviadas"
	FolderFailed   Folder = "falhas"
)

var folders = []Folder{FolderPending, FolderAccepted, FolderFailed}

// ArchiveName es el nombre del XML de una emisión: NFe_{numero}_{ms}.xml.
func ArchiveName(number int, at time.Time) string {
	return fmt.Sprintf("NFe_%d_%d.xml", number, at.UnixMilli())
}

// Archive mueve cada XML emitido de pendentes a enviadas o falhas.
type Archive struct {
	root string
	log  zerolog.Logger
}

// NewArchive crea las tres carpetas bajo root.
func NewArchive(root string, log zerolog.Logger) (*Archive, error) {
	if strings.TrimSpace(root) == "" {
		return nil, domain.NewConfigurationError("storage.NewArchive", "directorio de datos vacío", nil)
	}
	for _, f := range folders {
		if err := os.MkdirAll(filepath.Join(root, string(f)), 0o755); err != nil {
			return nil, fmt.Errorf("storage: crear %s: %w", f, err)
		}
	}
	return &Archive{root: root, log: log.With().Str("component", "archive").Logger()}, nil
}

// Path devuelve la ruta de name dentro de la carpeta.
func (a *Archive) Path(folder Folder, name string) string {
	return filepath.Join(a.root, string(folder), filepath.Base(name))
}

// SavePending guarda el XML firmado antes de transmitirlo.
func (a *Archive) SavePending(name string, data []byte) (string, error) {
	p := a.Path(FolderPending, name)
	if err := fsutil.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: guardar pendente: %w", err)
	}
	return p, nil
}

// Finish mueve el pendiente a la carpeta final. Si data no es nil reemplaza el
// contenido (p. ej. el nfeProc con el protocolo); el pendiente se elimina igual.
func (a *Archive) Finish(name string, to Folder, data []byte) (string, error) {
	if to == FolderPending {
		return "", fmt.Errorf("%w: destino %s", domain.ErrInvalidInput, to)
	}
	src := a.Path(FolderPending, name)
	dst := a.Path(to, name)
	if data != nil {
		if err := fsutil.WriteFile(dst, data, 0o644); err != nil {
			return "", fmt.Errorf("storage: escribir %s: %w", to, err)
		}
		if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("storage: remover pendente: %w", err)
		}
	} else if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("storage: mover para %s: %w", to, err)
	}
	a.log.Debug().Str("archivo", name).Str("carpeta", string(to)).Msg("xml archivado")
	return dst, nil
}

// List devuelve los nombres de la carpeta en orden alfabético.
func (a *Archive) List(folder Folder) ([]string, error) {
	dirents, err := os.ReadDir(filepath.Join(a.root, string(folder)))
	if err != nil {
		return nil, fmt.Errorf("storage: listar %s: %w", folder, err)
	}
	var names []string
	for _, d := range dirents {
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(d.Name()), ".xml") {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// FindAccepted busca en enviadas el XML de la chave: primero por nombre y, si
// no, por el atributo Id="NFe{chave}" en el contenido.
func (a *Archive) FindAccepted(accessKey string) ([]byte, bool, error) {
	names, err := a.List(FolderAccepted)
	if err != nil {
		return nil, false, err
	}
	for _, n := range names {
		if strings.Contains(n, accessKey) {
			data, err := os.ReadFile(a.Path(FolderAccepted, n))
			if err != nil {
				return nil, false, fmt.Errorf("storage: leer %s: %w", n, err)
			}
			return data, true, nil
		}
	}
	needle := []byte(`Id="NFe` + accessKey + `"`)
	for i := len(names) - 1; i >= 0; i-- {
		data, err := os.ReadFile(a.Path(FolderAccepted, names[i]))
		if err != nil {
			continue
		}
		if bytes.Contains(data, needle) {
			return data, true, nil
		}
	}
	return nil, false, nil
}
