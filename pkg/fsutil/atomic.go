// Package fsutil reúne la escritura atómica que comparten la caché, el archivo
// de documentos y el almacén de certificados.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix marca los temporales de WriteFile; los listados deben ignorarlos.
const TempPrefix = ".tmp-"

// IsTemp indica si name es un temporal de WriteFile.
func IsTemp(name string) bool { return strings.HasPrefix(name, TempPrefix) }

// WriteFile escribe data en un temporal del mismo directorio, hace fsync y lo
// renombra sobre path. Un lector ve el contenido anterior o el nuevo, nunca uno a medias.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("fsutil: crear temporal: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("fsutil: escribir %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("fsutil: permisos %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsutil: sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsutil: cerrar %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("fsutil: renombrar %s: %w", filepath.Base(path), err)
	}
	committed = true
	return nil
}
