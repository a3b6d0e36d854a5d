// Package settings loads the server settings file. This is the operator
// facing YAML file (listen address, proxy, inbound API keys); provider
// credentials live in the JSON store managed by internal/config.
package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings represents the server configuration loaded from a YAML file.
type Settings struct {
	// Host is the address the API server binds to.
	Host string `yaml:"host"`

	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile switches log output to a rotating file under logs/.
	LoggingToFile bool `yaml:"logging-to-file"`

	// ProxyURL is the URL of an optional proxy server for outbound requests.
	// Supports http, https and socks5 schemes.
	ProxyURL string `yaml:"proxy-url"`

	// APIKeys is a list of keys for authenticating clients to this gateway.
	// When empty, all requests are accepted.
	APIKeys []string `yaml:"api-keys"`
}

// Default returns the settings used when no file is present.
func Default() *Settings {
	return &Settings{
		Host: "127.0.0.1",
		Port: 8787,
	}
}

// Load reads a YAML settings file from the given path. A missing file yields
// the defaults; a malformed file is an error.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := Default()
	if err = yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return s, nil
}
