// Package config loads deployer/relay runtime defaults from a .env file or
// environment variables, generalized from the teacher's device-credential
// loader to the address/port knobs this tool's commands accept.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DeployConfig holds the defaults the CLI falls back to when a flag is not
// given explicitly: which remote relay to dial by default, and which local
// address/port the relay server binds when run standalone.
type DeployConfig struct {
	Port        int
	Remote      string
	BindAddress string
}

var (
	deployConfig *DeployConfig
	configLoaded bool
)

const defaultPort = 9064

// LoadDeployConfig reads .env (if present) from the project root, then lets
// environment variables override it, caching the result for later calls.
func LoadDeployConfig() (*DeployConfig, error) {
	if deployConfig != nil && configLoaded {
		return deployConfig, nil
	}

	cfg := &DeployConfig{Port: defaultPort, BindAddress: "127.0.0.1"}

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")

	data, err := os.ReadFile(envPath)
	if err == nil {
		parseEnvFile(string(data), cfg)
	}

	if port := os.Getenv("SC64_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			cfg.Port = v
		}
	}
	if remote := os.Getenv("SC64_REMOTE"); remote != "" {
		cfg.Remote = remote
	}
	if bind := os.Getenv("SC64_BIND_ADDRESS"); bind != "" {
		cfg.BindAddress = bind
	}

	deployConfig = cfg
	configLoaded = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *DeployConfig) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "SC64_PORT":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.Port = v
			}
		case "SC64_REMOTE":
			cfg.Remote = value
		case "SC64_BIND_ADDRESS":
			cfg.BindAddress = value
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// DefaultRemote returns the configured remote relay address, or "" if none
// is set (meaning the CLI should talk to a locally attached device).
func DefaultRemote() string {
	cfg, err := LoadDeployConfig()
	if err != nil {
		return ""
	}
	return cfg.Remote
}
