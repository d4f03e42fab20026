// Package schema valida XML fiscales contra los XSD publicados por la SEFAZ, con
// lista de versiones de respaldo (versions.json) y verificación de SHA-256
// (checksums.json) que se registra pero nunca bloquea.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// PrimaryFiles es el XSD principal por operación.
var PrimaryFiles = map[nfe.Operation]string{
	nfe.OpAuthorization: "enviNFe_v4.00.xsd",
	nfe.OpConsultation:  "consSitNFe_v4.00.xsd",
	nfe.OpCancellation:  "eventoCancNFe_v1.00.xsd",
	nfe.OpInvalidation:  "inutNFe_v4.00.xsd",
	nfe.OpDistribution:  "distDFe_v1.01.xsd",
	nfe.OpStatusService: "consStatServ_v4.00.xsd",
}

const (
	versionsFile  = "versions.json"
	checksumsFile = "checksums.json"
)

// Result es el resultado de una validación.
type Result struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors,omitempty"`
	SchemaFile string   `json:"schema_file,omitempty"`
	Fallback   bool     `json:"fallback"`
}

// ChecksumStatus describe la verificación de un archivo XSD.
type ChecksumStatus struct {
	Environment string `json:"environment"`
	File        string `json:"file"`
	Expected    string `json:"expected,omitempty"`
	Actual      string `json:"actual"`
	OK          bool   `json:"ok"`
}

// Validator compila y cachea los XSD por ruta.
type Validator struct {
	dir     string
	metrics *metrics.Registry
	log     zerolog.Logger

	mu       sync.Mutex
	compiled map[string]*schemaSet
	checked  map[string]bool
}

// New crea el validador sobre {dir}/{producao|homologacao}.
func New(dir string, m *metrics.Registry, log zerolog.Logger) *Validator {
	return &Validator{
		dir:      dir,
		metrics:  m,
		log:      log.With().Str("component", "schema").Logger(),
		compiled: map[string]*schemaSet{},
		checked:  map[string]bool{},
	}
}

// ResponseFiles es el XSD de cada retorno de la SEFAZ.
var ResponseFiles = map[nfe.Operation]string{
	nfe.OpAuthorization: "retEnviNFe_v4.00.xsd",
	nfe.OpConsultation:  "retConsSitNFe_v4.00.xsd",
	nfe.OpCancellation:  "retEnvEvento_v1.00.xsd",
	nfe.OpInvalidation:  "retInutNFe_v4.00.xsd",
	nfe.OpDistribution:  "retDistDFeInt_v1.01.xsd",
	nfe.OpStatusService: "retConsStatServ_v4.00.xsd",
}

// responseKey es la entrada de versions.json con los respaldos de un retorno.
func responseKey(op nfe.Operation) string { return "ret_" + string(op) }

// Candidates devuelve las rutas a probar: el XSD principal y luego las versiones de respaldo.
func (v *Validator) Candidates(op nfe.Operation, env nfe.Environment) []string {
	return v.candidates(PrimaryFiles[op], string(op), env)
}

func (v *Validator) candidates(primary, versionsKey string, env nfe.Environment) []string {
	base := filepath.Join(v.dir, env.Dir())
	var out []string
	if primary != "" {
		out = append(out, filepath.Join(base, primary))
	}
	for _, f := range v.fallbacks(versionsKey) {
		p := filepath.Join(base, f)
		if len(out) == 0 || p != out[0] {
			out = append(out, p)
		}
	}
	return out
}

// Validate valida xmlBytes para la operación y el ambiente. Prueba el XSD principal
// y, si falla o no existe, cada respaldo de versions.json en orden. Si ningún
// candidato existe en disco devuelve ConfigurationError.
func (v *Validator) Validate(xmlBytes []byte, op nfe.Operation, env nfe.Environment) (Result, error) {
	return v.validate(xmlBytes, string(op), v.Candidates(op, env), env)
}

// ValidateResponse valida el retorno de la SEFAZ (retEnviNFe, retEvento...). El
// llamador trata el resultado como informativo y marca el documento como no verificado.
func (v *Validator) ValidateResponse(xmlBytes []byte, op nfe.Operation, env nfe.Environment) (Result, error) {
	key := responseKey(op)
	return v.validate(xmlBytes, key, v.candidates(ResponseFiles[op], key, env), env)
}

func (v *Validator) validate(xmlBytes []byte, label string, candidates []string, env nfe.Environment) (Result, error) {
	const opName = "schema.Validate"
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil || doc.Root() == nil {
		v.metrics.IncSchemaFailure(label, env.Dir())
		return Result{Valid: false, Errors: []string{"XML mal formado"}}, nil
	}

	var first *Result
	var compileErr error
	found := false
	for i, path := range candidates {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		set, err := v.load(path)
		if err != nil {
			v.log.Warn().Err(err).Str("xsd", filepath.Base(path)).Msg("XSD no compila, se prueba el siguiente")
			if compileErr == nil {
				compileErr = fmt.Errorf("XSD inválido %s: %w", filepath.Base(path), err)
			}
			continue
		}
		found = true
		errs := set.validate(doc.Root())
		res := Result{Valid: len(errs) == 0, Errors: errs, SchemaFile: filepath.Base(path), Fallback: i > 0}
		if res.Valid {
			if res.Fallback {
				v.log.Info().Str("operacao", label).Str("xsd", res.SchemaFile).Msg("documento válido con XSD de respaldo")
			}
			return res, nil
		}
		if first == nil {
			first = &res
		}
	}
	if !found && compileErr != nil {
		return Result{}, domain.NewConfigurationError(opName, "ningún XSD compilable para "+label, compileErr)
	}
	if !found {
		return Result{}, domain.NewConfigurationError(opName,
			fmt.Sprintf("ningún XSD disponible para %s en %s", label, filepath.Join(v.dir, env.Dir())), nil)
	}
	v.metrics.IncSchemaFailure(label, env.Dir())
	v.log.Warn().Str("operacao", label).Str("ambiente", env.Dir()).
		Str("xsd", first.SchemaFile).Strs("errores", first.Errors).Msg("validación XSD fallida")
	return *first, nil
}

func (v *Validator) load(path string) (*schemaSet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if set, ok := v.compiled[path]; ok {
		return set, nil
	}
	set, err := compileFile(path)
	if err != nil {
		return nil, err
	}
	for _, f := range set.files {
		if !v.checked[f] {
			v.checked[f] = true
			v.verifyFile(f)
		}
	}
	v.compiled[path] = set
	return set, nil
}

// ── versions.json / checksums.json ───────────────────────────────────────────

func (v *Validator) fallbacks(key string) []string {
	data, err := os.ReadFile(filepath.Join(v.dir, versionsFile))
	if err != nil {
		return nil
	}
	var versions map[string][]string
	if err := json.Unmarshal(data, &versions); err != nil {
		v.log.Warn().Err(err).Msg("versions.json inválido, se ignora")
		return nil
	}
	return versions[key]
}

func (v *Validator) checksums() map[string]map[string]string {
	data, err := os.ReadFile(filepath.Join(v.dir, checksumsFile))
	if err != nil {
		return nil
	}
	var sums map[string]map[string]string
	if err := json.Unmarshal(data, &sums); err != nil {
		v.log.Warn().Err(err).Msg("checksums.json inválido, se ignora")
		return nil
	}
	return sums
}

// verifyFile registra y cuenta divergencias; nunca impide la validación.
func (v *Validator) verifyFile(path string) {
	env := filepath.Base(filepath.Dir(path))
	st, err := checksumOf(path, env, v.checksums())
	if err != nil {
		return
	}
	switch {
	case st.Expected == "":
		v.log.Warn().Str("xsd", st.File).Str("sha256", st.Actual).Msg("sin checksum registrado")
	case !st.OK:
		v.metrics.IncChecksumMismatch(st.File)
		v.log.Error().Str("xsd", st.File).Str("esperado", st.Expected).Str("obtenido", st.Actual).Msg("checksum XSD divergente")
	}
}

// VerifyChecksums recorre los .xsd de ambos ambientes y los compara con checksums.json.
func (v *Validator) VerifyChecksums() ([]ChecksumStatus, error) {
	sums := v.checksums()
	var out []ChecksumStatus
	for _, env := range []nfe.Environment{nfe.Production, nfe.Homologation} {
		files, err := filepath.Glob(filepath.Join(v.dir, env.Dir(), "*.xsd"))
		if err != nil {
			return nil, fmt.Errorf("schema: listar XSD: %w", err)
		}
		sort.Strings(files)
		for _, f := range files {
			st, err := checksumOf(f, env.Dir(), sums)
			if err != nil {
				return nil, err
			}
			if st.Expected != "" && !st.OK {
				v.metrics.IncChecksumMismatch(st.File)
			}
			out = append(out, st)
		}
	}
	return out, nil
}

// GenerateChecksums calcula el SHA-256 de todos los XSD y escribe checksums.json.
func (v *Validator) GenerateChecksums() (map[string]map[string]string, error) {
	out := map[string]map[string]string{}
	for _, env := range []nfe.Environment{nfe.Production, nfe.Homologation} {
		files, err := filepath.Glob(filepath.Join(v.dir, env.Dir(), "*.xsd"))
		if err != nil {
			return nil, fmt.Errorf("schema: listar XSD: %w", err)
		}
		for _, f := range files {
			st, err := checksumOf(f, env.Dir(), nil)
			if err != nil {
				return nil, err
			}
			if out[env.Dir()] == nil {
				out[env.Dir()] = map[string]string{}
			}
			out[env.Dir()][st.File] = st.Actual
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("schema: serializar checksums: %w", err)
	}
	if err := os.WriteFile(filepath.Join(v.dir, checksumsFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("schema: escribir checksums: %w", err)
	}
	return out, nil
}

func checksumOf(path, env string, sums map[string]map[string]string) (ChecksumStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ChecksumStatus{}, fmt.Errorf("schema: leer %s: %w", filepath.Base(path), err)
	}
	sum := sha256.Sum256(data)
	st := ChecksumStatus{Environment: env, File: filepath.Base(path), Actual: hex.EncodeToString(sum[:])}
	st.Expected = sums[env][st.File]
	st.OK = st.Expected == st.Actual
	return st, nil
}
