package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/pthm/cidl/internal/database"
)

const (
	maxWalkDepth = 25
)

// Config represents the cidl configuration from cidl.yaml.
type Config struct {
	// Schema is the CIDL document produced by the front-end.
	Schema string `mapstructure:"schema" json:"schema"`

	Migrations MigrationsConfig `mapstructure:"migrations" json:"migrations"`
	Database   DatabaseConfig   `mapstructure:"database" json:"database"`
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	Log        LogConfig        `mapstructure:"log" json:"log"`
	Doctor     DoctorConfig     `mapstructure:"doctor" json:"doctor"`
}

// MigrationsConfig holds migration file settings.
type MigrationsConfig struct {
	Dir string `mapstructure:"dir" json:"dir"`

	// Dialect of written migration files. Empty derives it from database.driver.
	Dialect string `mapstructure:"dialect" json:"dialect"`

	// Renames is the rename policy: prompt, never or fail.
	Renames string `mapstructure:"renames" json:"renames"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" json:"driver"`
	URL      string `mapstructure:"url" json:"url"`
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty"`
	Name     string `mapstructure:"name" json:"name,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode,omitempty"`
}

// ServerConfig holds preview server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Verbose bool `mapstructure:"verbose" json:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("CIDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schema", "cidl.json")

	v.SetDefault("migrations.dir", "migrations")
	v.SetDefault("migrations.dialect", "")
	v.SetDefault("migrations.renames", "prompt")

	v.SetDefault("database.driver", database.SQLite)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("doctor.verbose", false)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for cidl.yaml or cidl.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"cidl.yaml", "cidl.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Stop at the repository root
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly. SQLite requires it;
// PostgreSQL drivers fall back to a URL built from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	dialect, err := database.Dialect(db.Driver)
	if err != nil {
		return "", err
	}
	if dialect == database.SQLite {
		return "", fmt.Errorf("database.url is required for the %s driver", db.Driver)
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// HasDatabase reports whether enough is configured to connect.
func (c *Config) HasDatabase() bool {
	return c.Database.URL != "" || c.Database.Host != ""
}

// ResolvedDialect returns the dialect for migration files: migrations.dialect
// when set, otherwise the dialect of database.driver.
func (c *Config) ResolvedDialect() (string, error) {
	if c.Migrations.Dialect != "" {
		return c.Migrations.Dialect, nil
	}
	return database.Dialect(c.Database.Driver)
}
