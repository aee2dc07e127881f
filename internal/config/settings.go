package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Settings are machine-level options, separate from the project config.
// Each can be set through a STENCIL_ environment variable.
type Settings struct {
	CacheDir  string
	LogLevel  string
	LogFormat string
	Jobs      int
}

// NewViper returns a viper instance bound to the STENCIL_ environment with
// defaults for every setting.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("STENCIL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("cache-dir", defaultCacheDir())
	v.SetDefault("log-level", "warn")
	v.SetDefault("log-format", "text")
	v.SetDefault("jobs", 4)
	return v
}

// LoadSettings reads settings from v.
func LoadSettings(v *viper.Viper) *Settings {
	s := &Settings{
		CacheDir:  v.GetString("cache-dir"),
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
		Jobs:      v.GetInt("jobs"),
	}
	if s.Jobs <= 0 {
		s.Jobs = 1
	}
	return s
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "stencil")
	}
	return filepath.Join(os.TempDir(), "stencil-cache")
}
