package nfe

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

// Layout de la chave de acesso (44 dígitos):
//
//	cUF(2) AAMM(4) CNPJ(14) mod(2) serie(3) nNF(9) tpEmis(1) cNF(8) cDV(1)
const (
	AccessKeyLength = 44
	keyPrefixLength = 43
)

// KeyFields son los campos que componen la chave de acesso.
type KeyFields struct {
	UF           string // código IBGE de la UF emisora (2 dígitos)
	YearMonth    string // AAMM de emisión
	TaxID        string // CNPJ del emisor (CPF se completa con ceros a 14)
	Model        string // 55 NF-e, 65 NFC-e, 57 CT-e, 58 MDF-e
	Series       int
	Number       int
	EmissionType string // tpEmis: 1 normal, 2..9 contingencias
	RandomCode   string // cNF (8 dígitos)
	CheckDigit   int    // solo se llena en Decode
}

// Mod11 calcula el dígito verificador módulo 11 usado por la SEFAZ: pesos 2..9
// cíclicos desde el dígito más a la derecha; 0 si el resto es < 2, si no 11 - resto.
// Es la única rutina de DV del módulo; cualquier otro cálculo debe delegar aquí.
func Mod11(digits string) (int, error) {
	if digits == "" {
		return 0, fmt.Errorf("nfe: mod11 sobre cadena vacía")
	}
	sum, weight := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("nfe: mod11: carácter no numérico %q en posición %d", c, i)
		}
		sum += int(c-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rest := sum % 11
	if rest < 2 {
		return 0, nil
	}
	return 11 - rest, nil
}

// Encode arma la chave de acesso de 44 dígitos y le agrega el DV.
func Encode(f KeyFields) (string, error) {
	if _, ok := UFSiglaByCode(f.UF); !ok {
		return "", fmt.Errorf("nfe: código de UF desconocido %q", f.UF)
	}
	if err := checkYearMonth(f.YearMonth); err != nil {
		return "", err
	}
	taxID := OnlyDigits(f.TaxID)
	switch len(taxID) {
	case 14:
	case 11:
		taxID = "000" + taxID
	default:
		return "", fmt.Errorf("nfe: CNPJ/CPF debe tener 14 u 11 dígitos, se recibieron %d", len(taxID))
	}
	if len(f.Model) != 2 || !isDigits(f.Model) {
		return "", fmt.Errorf("nfe: modelo inválido %q", f.Model)
	}
	if f.Series < 0 || f.Series > 999 {
		return "", fmt.Errorf("nfe: serie fuera de rango (0-999): %d", f.Series)
	}
	if f.Number < 1 || f.Number > 999999999 {
		return "", fmt.Errorf("nfe: número fuera de rango (1-999999999): %d", f.Number)
	}
	if len(f.EmissionType) != 1 || f.EmissionType < "1" || f.EmissionType > "9" {
		return "", fmt.Errorf("nfe: tpEmis inválido %q", f.EmissionType)
	}
	if len(f.RandomCode) != 8 || !isDigits(f.RandomCode) {
		return "", fmt.Errorf("nfe: cNF debe tener 8 dígitos: %q", f.RandomCode)
	}

	var sb strings.Builder
	sb.Grow(AccessKeyLength)
	sb.WriteString(f.UF)
	sb.WriteString(f.YearMonth)
	sb.WriteString(taxID)
	sb.WriteString(f.Model)
	sb.WriteString(fmt.Sprintf("%03d", f.Series))
	sb.WriteString(fmt.Sprintf("%09d", f.Number))
	sb.WriteString(f.EmissionType)
	sb.WriteString(f.RandomCode)

	prefix := sb.String()
	dv, err := Mod11(prefix)
	if err != nil {
		return "", err
	}
	return prefix + strconv.Itoa(dv), nil
}

// Verify indica si key tiene 44 dígitos y su DV coincide con Mod11 de los 43 primeros.
func Verify(key string) bool {
	if len(key) != AccessKeyLength || !isDigits(key) {
		return false
	}
	dv, err := Mod11(key[:keyPrefixLength])
	if err != nil {
		return false
	}
	return int(key[keyPrefixLength]-'0') == dv
}

// Decode separa una chave válida en sus campos.
func Decode(key string) (KeyFields, error) {
	key = OnlyDigits(key)
	if !Verify(key) {
		return KeyFields{}, fmt.Errorf("nfe: chave de acesso inválida")
	}
	series, _ := strconv.Atoi(key[22:25])
	number, _ := strconv.Atoi(key[25:34])
	return KeyFields{
		UF:           key[0:2],
		YearMonth:    key[2:6],
		TaxID:        key[6:20],
		Model:        key[20:22],
		Series:       series,
		Number:       number,
		EmissionType: key[34:35],
		RandomCode:   key[35:43],
		CheckDigit:   int(key[43] - '0'),
	}, nil
}

// NewRandomCode genera el cNF de 8 dígitos. La SEFAZ rechaza cNF igual al nNF,
// así que se regenera en ese caso.
func NewRandomCode(number int) (string, error) {
	limit := big.NewInt(100_000_000)
	for {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("nfe: generar cNF: %w", err)
		}
		code := fmt.Sprintf("%08d", n.Int64())
		if code != fmt.Sprintf("%08d", number%100_000_000) {
			return code, nil
		}
	}
}

// OnlyDigits elimina todo carácter que no sea dígito (CNPJ con máscara, chaves con espacios).
func OnlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, s)
}

func checkYearMonth(aamm string) error {
	if len(aamm) != 4 || !isDigits(aamm) {
		return fmt.Errorf("nfe: AAMM inválido %q", aamm)
	}
	month, _ := strconv.Atoi(aamm[2:])
	if month < 1 || month > 12 {
		return fmt.Errorf("nfe: mes fuera de rango en AAMM %q", aamm)
	}
	return nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
