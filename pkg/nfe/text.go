package nfe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText deja el texto en NFC, sin caracteres de control y con espacios colapsados.
// Se aplica a xJust, xCorrecao y nombres antes de contar longitudes mínimas.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// StripAccents elimina diacríticos (São Paulo → Sao Paulo). Algunas UFs aún
// rechazan acentos en xNome/xLgr.
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// TextLength cuenta runas (no bytes) del texto normalizado.
func TextLength(s string) int {
	return len([]rune(NormalizeText(s)))
}
