package config

import (
	"fmt"
	"reflect"
	"strings"

	"world-sync/core/database"
	"world-sync/core/logger"
	"world-sync/core/server"
	"world-sync/core/storage"
	"world-sync/core/transport"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Server holds configuration for the HTTP server.
	Server server.Config `mapstructure:"server"`
	// Transport holds configuration for the replicated store.
	Transport transport.Config `mapstructure:"transport"`
	// Storage holds configuration for the snapshot archive (e.g., S3, Minio).
	Storage storage.Config `mapstructure:"storage"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the database connection.
	Database database.Config `mapstructure:"database"`
}

// LoadConfig loads configuration from environment variables and .env file,
// then validates it.
func LoadConfig(path string) (*Config, error) {
	// A .env next to the binary overrides the process environment.
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}
	// Missing file is fine (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Defaults must be registered first, AutomaticEnv only resolves known keys
	bindValues(v, Config{}, "")

	// TRANSPORT_ADDR -> transport.addr
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings no component can start with.
func (c *Config) Validate() error {
	if !c.Transport.IsValidDriver() {
		return fmt.Errorf("unsupported transport driver %q", c.Transport.Driver)
	}
	if c.Transport.Prefix == "" {
		return fmt.Errorf("transport prefix must not be empty")
	}
	if c.Storage.Retain < 0 {
		return fmt.Errorf("storage retain must not be negative, got %d", c.Storage.Retain)
	}
	return nil
}

// bindValues walks the struct and registers every 'mapstructure' key in Viper with
// the value of its 'default' tag.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue // not configurable
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		// Sections are nested structs: recurse with the dotted key as prefix
		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
