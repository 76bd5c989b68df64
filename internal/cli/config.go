package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds CLI configuration. Flags override the PARTYCTL_* environment.
type Config struct {
	ServerURL string `env:"SERVER" envDefault:"http://localhost:8080"`
	Token     string `env:"TOKEN"`
	TokenFile string `env:"TOKEN_FILE"`
	// Secret and Issuer are only needed to mint development tokens
	Secret string `env:"SECRET"`
	Issuer string `env:"ISSUER" envDefault:"partyrelay"`

	Output  string
	Verbose bool
}

// envPrefix prefixes every CLI variable
const envPrefix = "PARTYCTL_"

// DefaultConfig returns a Config populated from the environment
func DefaultConfig() *Config {
	return configFrom(env.Options{Prefix: envPrefix})
}

func configFrom(opts env.Options) *Config {
	c := &Config{Output: "text"}
	// Every tagged field is a string, so parsing cannot fail
	_ = env.ParseWithOptions(c, opts)
	if c.TokenFile == "" {
		c.TokenFile = defaultTokenFile()
	}
	return c
}

// LoadToken loads the token from file if not already set
func (c *Config) LoadToken() error {
	if c.Token != "" {
		return nil
	}

	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // No token file is fine
		}
		return err
	}

	c.Token = strings.TrimSpace(string(data))
	return nil
}

// SaveToken writes the token to the token file, readable only by the owner
func (c *Config) SaveToken(token string) error {
	c.Token = token

	if err := os.MkdirAll(filepath.Dir(c.TokenFile), 0o700); err != nil {
		return err
	}

	// Write then rename so a concurrent reader never sees a partial token
	tmp := c.TokenFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(token), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.TokenFile)
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".partyctl", "token")
	}
	return filepath.Join(home, ".partyctl", "token")
}
