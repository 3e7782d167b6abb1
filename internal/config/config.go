package config

import (
	"strings"
	"time"
	_ "time/tzdata" // civil timezone must resolve on minimal images

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/fleet-feedback/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fleet      FleetConfig      `yaml:"fleet" mapstructure:"fleet"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the submission store backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// FleetConfig points at the externally owned fleet-management database.
type FleetConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
	Schema      string        `yaml:"schema" mapstructure:"schema"`

	// ActivationTag is the modality value marking a record as operative fleet.
	ActivationTag      string `yaml:"activation_tag" mapstructure:"activation_tag"`
	ActivationColumn   string `yaml:"activation_column" mapstructure:"activation_column"`
	CancellationColumn string `yaml:"cancellation_column" mapstructure:"cancellation_column"`

	VehicleTable       string `yaml:"vehicle_table" mapstructure:"vehicle_table"`
	VehiclePlateColumn string `yaml:"vehicle_plate_column" mapstructure:"vehicle_plate_column"`

	AssignmentTable       string `yaml:"assignment_table" mapstructure:"assignment_table"`
	AssignmentPlateColumn string `yaml:"assignment_plate_column" mapstructure:"assignment_plate_column"`
	AssignmentStartColumn string `yaml:"assignment_start_column" mapstructure:"assignment_start_column"`

	PersonnelTable             string `yaml:"personnel_table" mapstructure:"personnel_table"`
	PersonnelIDColumn          string `yaml:"personnel_id_column" mapstructure:"personnel_id_column"`
	PersonnelNameColumn        string `yaml:"personnel_name_column" mapstructure:"personnel_name_column"`
	PersonnelTerminationColumn string `yaml:"personnel_termination_column" mapstructure:"personnel_termination_column"`

	ProbeCandidates int `yaml:"probe_candidates" mapstructure:"probe_candidates"`
	ProbeRows       int `yaml:"probe_rows" mapstructure:"probe_rows"`
}

// DedupConfig configures duplicate submission suppression.
type DedupConfig struct {
	WindowDays int    `yaml:"window_days" mapstructure:"window_days"`
	Timezone   string `yaml:"timezone" mapstructure:"timezone"`
	Atomic     bool   `yaml:"atomic" mapstructure:"atomic"`
}

// GeocodeConfig configures the best-effort reverse geocoder.
type GeocodeConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutMs        int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TokenHeader        string   `yaml:"token_header" mapstructure:"token_header"`
}

// MonitoringConfig configures schema drift checks and alert delivery.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	DriftIntervalMins int    `yaml:"drift_interval_mins" mapstructure:"drift_interval_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FEEDBACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("fleet.database_url", "")
	v.SetDefault("fleet.assignment_plate_column", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("dedup.atomic", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 15)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.token_header", "X-Actor-Token")
	v.SetDefault("fleet.schema", "frota")
	v.SetDefault("fleet.activation_tag", "FROTA")
	v.SetDefault("fleet.activation_column", "modalidade")
	v.SetDefault("fleet.cancellation_column", "data_cancelamento")
	v.SetDefault("fleet.vehicle_table", "veiculos")
	v.SetDefault("fleet.vehicle_plate_column", "placa")
	v.SetDefault("fleet.assignment_table", "vinculos_motorista")
	v.SetDefault("fleet.assignment_start_column", "data_inicio")
	v.SetDefault("fleet.personnel_table", "colaboradores")
	v.SetDefault("fleet.personnel_id_column", "matricula")
	v.SetDefault("fleet.personnel_name_column", "nome")
	v.SetDefault("fleet.personnel_termination_column", "data_demissao")
	v.SetDefault("fleet.probe_candidates", 25)
	v.SetDefault("fleet.probe_rows", 50)
	v.SetDefault("dedup.window_days", 7)
	v.SetDefault("dedup.timezone", "America/Sao_Paulo")
	v.SetDefault("geocode.enabled", true)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "fleet-feedback/1.0")
	v.SetDefault("geocode.timeout_ms", 3000)
	v.SetDefault("geocode.rate_limit", 1.0)
	v.SetDefault("geocode.max_attempts", 2)
	v.SetDefault("geocode.breaker_threshold", 5)
	v.SetDefault("geocode.breaker_reset_secs", 60)
	v.SetDefault("monitoring.drift_interval_mins", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that end up in SQL or time arithmetic.
func (c *Config) Validate() error {
	idents := map[string]string{
		"fleet.schema":                       c.Fleet.Schema,
		"fleet.activation_column":            c.Fleet.ActivationColumn,
		"fleet.cancellation_column":          c.Fleet.CancellationColumn,
		"fleet.vehicle_table":                c.Fleet.VehicleTable,
		"fleet.vehicle_plate_column":         c.Fleet.VehiclePlateColumn,
		"fleet.assignment_table":             c.Fleet.AssignmentTable,
		"fleet.assignment_start_column":      c.Fleet.AssignmentStartColumn,
		"fleet.personnel_table":              c.Fleet.PersonnelTable,
		"fleet.personnel_id_column":          c.Fleet.PersonnelIDColumn,
		"fleet.personnel_name_column":        c.Fleet.PersonnelNameColumn,
		"fleet.personnel_termination_column": c.Fleet.PersonnelTerminationColumn,
	}
	for key, val := range idents {
		if !db.IsSafeIdent(val) {
			return eris.Errorf("config: %s must match [A-Za-z0-9_]+, got %q", key, val)
		}
	}
	// Pinned column is optional; empty means discover at runtime.
	if c.Fleet.AssignmentPlateColumn != "" && !db.IsSafeIdent(c.Fleet.AssignmentPlateColumn) {
		return eris.Errorf("config: fleet.assignment_plate_column must match [A-Za-z0-9_]+, got %q", c.Fleet.AssignmentPlateColumn)
	}
	if c.Dedup.WindowDays <= 0 {
		return eris.Errorf("config: dedup.window_days must be positive, got %d", c.Dedup.WindowDays)
	}
	if _, err := time.LoadLocation(c.Dedup.Timezone); err != nil {
		return eris.Wrapf(err, "config: dedup.timezone %q", c.Dedup.Timezone)
	}
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unsupported store.driver %q", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
