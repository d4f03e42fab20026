package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App      AppConfig
	DB       DBConfig
	JWT      JWTConfig
	HTTP     HTTPConfig
	Sefaz    SefazConfig
	Schema   SchemaConfig
	Storage  StorageConfig
	Security SecurityConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SefazConfig concentra los parámetros de transporte, reintento y backoff.
// Es el único origen de estos valores para el cliente SOAP y la sincronización NSU.
type SefazConfig struct {
	UF            string
	Environment   nfe.Environment
	TaxID         string // CNPJ interessado en la distribución DF-e; vacío = emitente de la chave
	CertPath      string // .pfx/.p12 del certificado A1
	CertPassword  string
	CertOwner     string // id bajo el que se guarda cifrado en el CertificateStore
	CADir         string // cadena ICP-Brasil (.cer/.crt/.pem)
	Timeout       time.Duration
	RetryAttempts int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	RatePerSecond float64
	RateBurst     int
	StatusTTL     time.Duration
	StatusTimeout time.Duration
	StatusUFs     []string
}

// SchemaConfig ubicación de los XSD y política de validación.
type SchemaConfig struct {
	XSDDir  string
	Enforce bool // true: un XML saliente no conforme bloquea el envío
}

// StorageConfig directorios de trabajo y límites de la caché.
type StorageConfig struct {
	DataDir         string
	CacheMaxAgeDays int
	CacheMaxSizeMB  int
	DFeMaxLoops     int
	CursorBackend   string // file | postgres
}

// SecurityConfig claves de cifrado en reposo.
type SecurityConfig struct {
	EncryptionKey string // 64 caracteres hex (32 bytes)
}

// MasterKey decodifica EncryptionKey.
func (c SecurityConfig) MasterKey() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.EncryptionKey))
	if err != nil || len(key) != 32 {
		return nil, domain.NewConfigurationError("config", "ENCRYPTION_KEY debe tener 64 caracteres hexadecimales", err)
	}
	return key, nil
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, SEFAZ_UF, SEFAZ_AMBIENTE, CERT_PATH, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return FromViper(v)
}

// FromViper construye la configuración a partir de una instancia ya poblada (tests, CLI con flags).
func FromViper(v *viper.Viper) (*Config, error) {
	env, err := nfe.ParseEnvironment(getString(v, "SEFAZ_AMBIENTE", "2"))
	if err != nil {
		return nil, domain.NewConfigurationError("config", "SEFAZ_AMBIENTE", err)
	}

	cfg := &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "fiscal-api"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "fiscal"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "fiscal-api"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		Sefaz: SefazConfig{
			UF:            strings.ToUpper(getString(v, "SEFAZ_UF", "SP")),
			Environment:   env,
			TaxID:         getString(v, "SEFAZ_CNPJ", ""),
			CertPath:      getString(v, "CERT_PATH", ""),
			CertPassword:  getString(v, "CERT_PASS", ""),
			CertOwner:     getString(v, "CERT_OWNER", "default"),
			CADir:         getString(v, "SEFAZ_CA_DIR", "./certs"),
			Timeout:       time.Duration(getInt(v, "SEFAZ_TIMEOUT", 30000)) * time.Millisecond,
			RetryAttempts: getInt(v, "SEFAZ_RETRY_ATTEMPTS", 3),
			BackoffBase:   time.Duration(getInt(v, "SEFAZ_BACKOFF_BASE_MS", 2000)) * time.Millisecond,
			BackoffCap:    time.Duration(getInt(v, "SEFAZ_BACKOFF_CAP_MS", 120000)) * time.Millisecond,
			RatePerSecond: getFloat(v, "SEFAZ_RATE_PER_SECOND", 2),
			RateBurst:     getInt(v, "SEFAZ_RATE_BURST", 4),
			StatusTTL:     time.Duration(getInt(v, "SEFAZ_STATUS_TTL_MS", 60000)) * time.Millisecond,
			StatusTimeout: time.Duration(getInt(v, "SEFAZ_STATUS_TIMEOUT_MS", 10000)) * time.Millisecond,
			StatusUFs:     splitList(getString(v, "SEFAZ_STATUS_UFS", "SP,RJ")),
		},
		Schema: SchemaConfig{
			XSDDir:  getString(v, "XSD_DIR", "./schemas"),
			Enforce: getBool(v, "XSD_ENFORCE", true),
		},
		Storage: StorageConfig{
			DataDir:         getString(v, "DATA_DIR", "./data"),
			CacheMaxAgeDays: getInt(v, "CACHE_MAX_AGE_DAYS", 30),
			CacheMaxSizeMB:  getInt(v, "CACHE_MAX_SIZE_MB", 200),
			DFeMaxLoops:     getInt(v, "DFE_MAX_LOOPS", 5),
			CursorBackend:   strings.ToLower(getString(v, "CURSOR_BACKEND", "file")),
		},
		Security: SecurityConfig{
			EncryptionKey: getString(v, "ENCRYPTION_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate detecta valores que harían fallar al subsistema antes de cualquier llamada de red.
func (c *Config) Validate() error {
	if _, ok := nfe.UFCode(c.Sefaz.UF); !ok {
		return domain.NewConfigurationError("config", fmt.Sprintf("SEFAZ_UF desconocida %q", c.Sefaz.UF), nil)
	}
	if c.Sefaz.Timeout <= 0 {
		return domain.NewConfigurationError("config", "SEFAZ_TIMEOUT debe ser positivo", nil)
	}
	if c.Sefaz.RetryAttempts < 1 {
		return domain.NewConfigurationError("config", "SEFAZ_RETRY_ATTEMPTS debe ser >= 1", nil)
	}
	if c.Sefaz.BackoffBase <= 0 || c.Sefaz.BackoffCap < c.Sefaz.BackoffBase {
		return domain.NewConfigurationError("config", "backoff: base > 0 y cap >= base", nil)
	}
	if c.Storage.DFeMaxLoops < 1 {
		return domain.NewConfigurationError("config", "DFE_MAX_LOOPS debe ser >= 1", nil)
	}
	if c.Storage.CursorBackend != "file" && c.Storage.CursorBackend != "postgres" {
		return domain.NewConfigurationError("config", fmt.Sprintf("CURSOR_BACKEND desconocido %q", c.Storage.CursorBackend), nil)
	}
	return nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getFloat(v *viper.Viper, key string, def float64) float64 {
	if v.IsSet(key) {
		f, err := strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
		if err != nil {
			return def
		}
		return f
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			return def
		}
		return b
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
