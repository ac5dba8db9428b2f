package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	VoicePort  int    `mapstructure:"voice_port"`
	HTTPPort   int    `mapstructure:"http_port"`
	LogLevel   string `mapstructure:"log_level"`
	ReadBuffer int    `mapstructure:"read_buffer"`
}

// ControlAddr is the TCP control-channel bind address.
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// VoiceAddr is the UDP relay bind address.
func (c *Config) VoiceAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.VoicePort)
}

// HTTPAddr is the status API bind address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load reads config/config.<CONFIG_ENV>.yaml when present and falls back to
// defaults otherwise. Missing files are not an error; every key has a
// working default.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/config.%s.yaml", env))
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 65432)
	v.SetDefault("voice_port", 65433)
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_buffer", 4096)

	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
