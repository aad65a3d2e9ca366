package manager

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/keystone-data/storekit/internal/core/domain"
)

// Environment variables recognised by configFromEnv. Unset variables take
// the documented defaults; STORAGE_TYPE defaults to sqlite.
const (
	envType                   = "STORAGE_TYPE"
	envDatabasePath           = "STORAGE_DATABASE_PATH"
	envBasePath               = "STORAGE_BASE_PATH"
	envPersistToFile          = "STORAGE_PERSIST_TO_FILE"
	envFilePath               = "STORAGE_FILE_PATH"
	envServer                 = "STORAGE_SERVER"
	envDatabase               = "STORAGE_DATABASE"
	envUsername               = "STORAGE_USERNAME"
	envPassword               = "STORAGE_PASSWORD"
	envTrustedConnection      = "STORAGE_TRUSTED_CONNECTION"
	envEncrypt                = "STORAGE_ENCRYPT"
	envTrustServerCertificate = "STORAGE_TRUST_SERVER_CERTIFICATE"
	envConnectionTimeout      = "STORAGE_CONNECTION_TIMEOUT"
	envCommandTimeout         = "STORAGE_COMMAND_TIMEOUT"
)

// configFromEnv reads the process environment once into a StorageConfig.
func configFromEnv() (domain.StorageConfig, error) {
	backend, err := domain.ParseBackendType(os.Getenv(envType))
	if err != nil {
		return domain.StorageConfig{}, err
	}

	cfg := domain.StorageConfig{
		Type:              backend,
		DatabasePath:      os.Getenv(envDatabasePath),
		BasePath:          os.Getenv(envBasePath),
		FilePath:          os.Getenv(envFilePath),
		Server:            os.Getenv(envServer),
		Database:          os.Getenv(envDatabase),
		Username:          os.Getenv(envUsername),
		Password:          os.Getenv(envPassword),
		TrustedConnection: envBool(envTrustedConnection, false),
		Encrypt:           envBool(envEncrypt, true),
		PersistToFile:     envBool(envPersistToFile, false),

		TrustServerCertificate: envBool(envTrustServerCertificate, false),
	}

	if cfg.ConnectionTimeout, err = envSeconds(envConnectionTimeout); err != nil {
		return domain.StorageConfig{}, err
	}
	if cfg.CommandTimeout, err = envSeconds(envCommandTimeout); err != nil {
		return domain.StorageConfig{}, err
	}
	return cfg, nil
}

func envBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envSeconds(name string) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative number of seconds, got %q", domain.ErrInvalidConfig, name, v)
	}
	return time.Duration(n) * time.Second, nil
}

// fileConfig is the TOML shape of a storage configuration. Timeouts are
// integer seconds, matching the environment convention.
type fileConfig struct {
	Type                   string `toml:"type"`
	DatabasePath           string `toml:"database_path"`
	BasePath               string `toml:"base_path"`
	PersistToFile          bool   `toml:"persist_to_file"`
	FilePath               string `toml:"file_path"`
	Server                 string `toml:"server"`
	Database               string `toml:"database"`
	Username               string `toml:"username"`
	Password               string `toml:"password"`
	TrustedConnection      bool   `toml:"trusted_connection"`
	Encrypt                *bool  `toml:"encrypt"`
	TrustServerCertificate bool   `toml:"trust_server_certificate"`
	ConnectionTimeout      int    `toml:"connection_timeout"`
	CommandTimeout         int    `toml:"command_timeout"`
}

// configFromFile loads a StorageConfig from a TOML file.
func configFromFile(path string) (domain.StorageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.StorageConfig{}, fmt.Errorf("%w: reading config file %s: %v", domain.ErrInvalidConfig, path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return domain.StorageConfig{}, fmt.Errorf("%w: parsing config file %s: %v", domain.ErrInvalidConfig, path, err)
	}

	backend, err := domain.ParseBackendType(fc.Type)
	if err != nil {
		return domain.StorageConfig{}, err
	}

	cfg := domain.StorageConfig{
		Type:              backend,
		DatabasePath:      fc.DatabasePath,
		BasePath:          fc.BasePath,
		PersistToFile:     fc.PersistToFile,
		FilePath:          fc.FilePath,
		Server:            fc.Server,
		Database:          fc.Database,
		Username:          fc.Username,
		Password:          fc.Password,
		TrustedConnection: fc.TrustedConnection,
		Encrypt:           true,

		TrustServerCertificate: fc.TrustServerCertificate,
		ConnectionTimeout:      time.Duration(fc.ConnectionTimeout) * time.Second,
		CommandTimeout:         time.Duration(fc.CommandTimeout) * time.Second,
	}
	if fc.Encrypt != nil {
		cfg.Encrypt = *fc.Encrypt
	}
	return cfg, nil
}
