package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

// Config es la configuración completa del market maker.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Refresh       RefreshConfig       `yaml:"refresh"`
	Market        MarketConfig        `yaml:"market"`
	Venue         VenueConfig         `yaml:"venue"`
	Orders        OrdersConfig        `yaml:"orders"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Storage       StorageConfig       `yaml:"storage"`
	Log           LogConfig           `yaml:"log"`
	Instruments   []InstrumentConfig  `yaml:"instruments"`
}

// ServerConfig controla el transporte HTTP.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	QuoteTimeoutMs int      `yaml:"quote_timeout_ms"`
	PublicEndpoint string   `yaml:"public_endpoint"` // URL que se registra en el venue; vacío = no registrar
}

// RefreshConfig controla el scheduler de órdenes.
type RefreshConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// MarketConfig controla de dónde llega el market data.
type MarketConfig struct {
	MaxAgeSeconds       int    `yaml:"max_age_seconds"` // snapshot más viejo = stale
	Mode                string `yaml:"mode"`            // ws | rest | both
	WSURL               string `yaml:"ws_url"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// VenueConfig contiene el acceso al venue. Las claves solo llegan por env.
type VenueConfig struct {
	Mode         string  `yaml:"mode"` // live | paper
	BaseURL      string  `yaml:"base_url"`
	TimeoutMs    int     `yaml:"timeout_ms"`
	RatePerSec   float64 `yaml:"rate_per_sec"`
	Burst        int     `yaml:"burst"`
	AgentAddress string  `yaml:"agent_address"`
	Platform     string  `yaml:"platform"`
	Environment  string  `yaml:"environment"` // Devnet | Testnet | Mainnet

	APIKey     string `yaml:"-"` // JITMAKER_API_KEY
	SigningKey string `yaml:"-"` // JITMAKER_SIGNING_KEY
}

// OrdersConfig controla el order lifecycle manager.
type OrdersConfig struct {
	VenueTimeoutMs int `yaml:"venue_timeout_ms"`
	InboxSize      int `yaml:"inbox_size"`
	RetiredWindow  int `yaml:"retired_window"`
	OrphanWindow   int `yaml:"orphan_window"`
}

// NotificationsConfig controla dedupe y reorder de trade notifications.
type NotificationsConfig struct {
	DedupeWindow  int `yaml:"dedupe_window"`
	ReorderWindow int `yaml:"reorder_window"`
	MaxHoldMs     int `yaml:"max_hold_ms"`
	InboxSize     int `yaml:"inbox_size"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // si no está vacío, además rota a este archivo
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TokenConfig describe un token ERC-20.
type TokenConfig struct {
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// InstrumentConfig describe un par. Los importes van como string decimal
// para no pasar por float.
type InstrumentConfig struct {
	Symbol        string      `yaml:"symbol"`
	Base          TokenConfig `yaml:"base"`
	Quote         TokenConfig `yaml:"quote"`
	ExposureLimit string      `yaml:"exposure_limit"` // unidades de base
	OrderSize     string      `yaml:"order_size"`
	EdgeBps       string      `yaml:"edge_bps"`
	MaxSkewBps    string      `yaml:"max_skew_bps"`
	PriceDriftBps string      `yaml:"price_drift_bps"`
	SizeDriftPct  string      `yaml:"size_drift_pct"` // fracción, 0.2 = 20%
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse aplica env overrides, defaults y validación sobre un YAML ya leído.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RefreshInterval devuelve el intervalo del scheduler.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalSeconds) * time.Second
}

// MaxSnapshotAge devuelve el umbral de staleness.
func (c *Config) MaxSnapshotAge() time.Duration {
	return time.Duration(c.Market.MaxAgeSeconds) * time.Second
}

// PollInterval devuelve el intervalo del ticker REST.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Market.PollIntervalSeconds) * time.Second
}

// QuoteTimeout devuelve el presupuesto por subasta.
func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.Server.QuoteTimeoutMs) * time.Millisecond
}

// VenueTimeout devuelve el timeout por llamada al venue del order manager.
func (c *Config) VenueTimeout() time.Duration {
	return time.Duration(c.Orders.VenueTimeoutMs) * time.Millisecond
}

// MaxHold devuelve cuánto puede esperar un evento fuera de orden.
func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.Notifications.MaxHoldMs) * time.Millisecond
}

// Universe construye el universo de instrumentos.
func (c *Config) Universe() (*domain.Universe, error) {
	insts := make([]domain.Instrument, 0, len(c.Instruments))
	for i, ic := range c.Instruments {
		inst, err := ic.instrument()
		if err != nil {
			return nil, fmt.Errorf("config: instruments[%d]: %w", i, err)
		}
		insts = append(insts, inst)
	}
	u, err := domain.NewUniverse(insts...)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return u, nil
}

// Validate comprueba los valores que no tienen default razonable.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Instruments) == 0 {
		errs = append(errs, errors.New("at least one instrument is required"))
	}
	switch c.Venue.Mode {
	case "live", "paper":
	default:
		errs = append(errs, fmt.Errorf("venue.mode must be live or paper, got %q", c.Venue.Mode))
	}
	switch c.Market.Mode {
	case "ws", "rest", "both":
	default:
		errs = append(errs, fmt.Errorf("market.mode must be ws, rest or both, got %q", c.Market.Mode))
	}
	if (c.Market.Mode == "ws" || c.Market.Mode == "both") && c.Market.WSURL == "" {
		errs = append(errs, errors.New("market.ws_url is required for ws mode"))
	}
	if c.Venue.Mode == "live" && c.Venue.APIKey == "" {
		errs = append(errs, errors.New("JITMAKER_API_KEY is required in live mode"))
	}
	if c.Server.PublicEndpoint != "" && (c.Venue.SigningKey == "" || c.Venue.AgentAddress == "") {
		errs = append(errs, errors.New("server.public_endpoint needs venue.agent_address and JITMAKER_SIGNING_KEY"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if len(errs) == 0 {
		if _, err := c.Universe(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}
	return nil
}

func (ic InstrumentConfig) instrument() (domain.Instrument, error) {
	inst := domain.Instrument{
		Symbol: ic.Symbol,
		Base:   domain.Token{Address: ic.Base.Address, Decimals: ic.Base.Decimals},
		Quote:  domain.Token{Address: ic.Quote.Address, Decimals: ic.Quote.Decimals},
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"exposure_limit", ic.ExposureLimit, &inst.ExposureLimit},
		{"order_size", ic.OrderSize, &inst.OrderSize},
		{"edge_bps", ic.EdgeBps, &inst.EdgeBps},
		{"max_skew_bps", ic.MaxSkewBps, &inst.MaxSkewBps},
		{"price_drift_bps", ic.PriceDriftBps, &inst.PriceDriftBps},
		{"size_drift_pct", ic.SizeDriftPct, &inst.SizeDriftPct},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.Instrument{}, fmt.Errorf("%s %s: %q: %w", ic.Symbol, f.name, f.raw, err)
		}
		*f.dst = d
	}
	return inst, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("JITMAKER_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("JITMAKER_SIGNING_KEY"); v != "" {
		cfg.Venue.SigningKey = v
	}
	if v := os.Getenv("JITMAKER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config.Load: JITMAKER_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.QuoteTimeoutMs <= 0 {
		cfg.Server.QuoteTimeoutMs = 200
	}
	if cfg.Refresh.IntervalSeconds <= 0 {
		cfg.Refresh.IntervalSeconds = 5
	}
	if cfg.Market.MaxAgeSeconds <= 0 {
		cfg.Market.MaxAgeSeconds = 10
	}
	if cfg.Market.Mode == "" {
		cfg.Market.Mode = "rest"
	}
	if cfg.Market.PollIntervalSeconds <= 0 {
		cfg.Market.PollIntervalSeconds = 2
	}
	if cfg.Venue.Mode == "" {
		cfg.Venue.Mode = "paper"
	}
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://api.litlayer.com"
	}
	if cfg.Venue.TimeoutMs <= 0 {
		cfg.Venue.TimeoutMs = 10000
	}
	if cfg.Venue.RatePerSec <= 0 {
		cfg.Venue.RatePerSec = 20
	}
	if cfg.Venue.Burst <= 0 {
		cfg.Venue.Burst = 10
	}
	if cfg.Orders.VenueTimeoutMs <= 0 {
		cfg.Orders.VenueTimeoutMs = 5000
	}
	if cfg.Notifications.MaxHoldMs <= 0 {
		cfg.Notifications.MaxHoldMs = 2000
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "jitmaker.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB <= 0 {
			cfg.Log.MaxSizeMB = 50
		}
		if cfg.Log.MaxBackups <= 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays <= 0 {
			cfg.Log.MaxAgeDays = 14
		}
	}
	for i := range cfg.Instruments {
		ic := &cfg.Instruments[i]
		if ic.EdgeBps == "" {
			ic.EdgeBps = "0"
		}
		if ic.MaxSkewBps == "" {
			ic.MaxSkewBps = "0"
		}
		if ic.PriceDriftBps == "" {
			ic.PriceDriftBps = "10"
		}
		if ic.SizeDriftPct == "" {
			ic.SizeDriftPct = "0.2"
		}
	}
}
