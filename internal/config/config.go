// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"instrument-service/internal/model"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Instrument  InstrumentConfig  `mapstructure:"instrument"`
	Instruments []InstrumentEntry `mapstructure:"instruments"`
	App         AppConfig         `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// InstrumentConfig represents instrument-wide defaults
type InstrumentConfig struct {
	HealthCheckInterval time.Duration        `mapstructure:"health_check_interval"`
	PingInterval        time.Duration        `mapstructure:"ping_interval"`
	OperationTimeout    time.Duration        `mapstructure:"operation_timeout"`
	SupportedBrands     []string             `mapstructure:"supported_brands"`
	DefaultPort         InstrumentPortConfig `mapstructure:"default_ports"`
}

// InstrumentEntry describes one instrument to register at startup
type InstrumentEntry struct {
	InstrumentID     string           `mapstructure:"instrument_id"`
	InstrumentType   string           `mapstructure:"instrument_type"`
	Brand            string           `mapstructure:"brand"`
	Model            string           `mapstructure:"model"`
	ConnectionType   string           `mapstructure:"connection_type"`
	ConnectionConfig model.JSONObject `mapstructure:"connection_config"`
	Location         string           `mapstructure:"location"`
}

// InstrumentPortConfig represents default port configurations
type InstrumentPortConfig struct {
	Serial SerialPortConfig `mapstructure:"serial"`
	TCP    TCPPortConfig    `mapstructure:"tcp"`
	USB    USBPortConfig    `mapstructure:"usb"`
}

// SerialPortConfig represents serial port configuration
type SerialPortConfig struct {
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TCPPortConfig represents TCP port configuration
type TCPPortConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// USBPortConfig represents USB port configuration
type USBPortConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	BulkTransferSize int           `mapstructure:"bulk_transfer_size"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../../internal/config")

	// Environment variable support
	viper.SetEnvPrefix("INSTRUMENT_SERVICE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Defaults-only run is fine; instruments get registered over HTTP.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8084")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.tls.enabled", false)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)

	// Instrument defaults
	viper.SetDefault("instrument.health_check_interval", "10s")
	viper.SetDefault("instrument.ping_interval", "5s")
	viper.SetDefault("instrument.operation_timeout", "30s")
	viper.SetDefault("instrument.supported_brands", []string{
		"NEWPORT", "TEKTRONIX", "GENERIC",
	})

	// Instrument port defaults
	viper.SetDefault("instrument.default_ports.serial.baud_rate", 9600)
	viper.SetDefault("instrument.default_ports.serial.data_bits", 8)
	viper.SetDefault("instrument.default_ports.serial.stop_bits", 1)
	viper.SetDefault("instrument.default_ports.serial.parity", "none")
	viper.SetDefault("instrument.default_ports.serial.timeout", "1s")

	viper.SetDefault("instrument.default_ports.tcp.connect_timeout", "10s")
	viper.SetDefault("instrument.default_ports.tcp.read_timeout", "5s")
	viper.SetDefault("instrument.default_ports.tcp.write_timeout", "5s")
	viper.SetDefault("instrument.default_ports.tcp.keep_alive", true)

	viper.SetDefault("instrument.default_ports.usb.timeout", "1s")
	viper.SetDefault("instrument.default_ports.usb.bulk_transfer_size", 64)

	// App defaults
	viper.SetDefault("app.name", "instrument-service")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	// Validate instrument entries
	for i, entry := range config.Instruments {
		if entry.InstrumentID == "" {
			return fmt.Errorf("instruments[%d].instrument_id is required", i)
		}
		if entry.ConnectionType == "" {
			return fmt.Errorf("instruments[%d].connection_type is required", i)
		}
	}

	return nil
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
