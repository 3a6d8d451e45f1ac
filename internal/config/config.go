// Package config resolves where the vault's markdown files and derived
// SQLite index live, following a fixed precedence chain so callers (the CLI,
// an MCP server) never have to reimplement the lookup.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the project-local config file's default name.
const ConfigFileName = ".contextvault.json"

// defaultVaultDirName and defaultDataDirName are joined onto the working
// directory when no config file or environment variable sets the directory.
const (
	defaultVaultDirName = "vault"
	defaultDataDirName  = ".contextvault"
	dbFileName          = "index.db"
)

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errVaultDirEmpty      = errors.New("vault_dir cannot be empty")
)

// fileConfig is the on-disk JSONC shape of a config file.
type fileConfig struct {
	VaultDir string `json:"vault_dir,omitempty"` //nolint:tagliatelle
	DataDir  string `json:"data_dir,omitempty"`  //nolint:tagliatelle
}

// Config is the fully resolved location of a vault's files and index.
type Config struct {
	VaultDir string
	DataDir  string
	DBPath   string

	VaultDirFrom string
	DataDirFrom  string
}

// Options lets a caller override the resolution chain: an explicit config
// file path, or a working directory other than the process cwd.
type Options struct {
	WorkDir    string
	ConfigPath string
	Env        []string
}

// Resolve computes a Config by walking, in increasing precedence:
// defaults, the global user config, the project config (or an explicit
// config file), and environment variables.
func Resolve(opts Options) (Config, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("config: getwd: %w", err)
		}

		workDir = wd
	}

	cfg := Config{
		VaultDir:     filepath.Join(workDir, defaultVaultDirName),
		DataDir:      filepath.Join(workDir, defaultDataDirName),
		VaultDirFrom: "default",
		DataDirFrom:  "default",
	}

	if globalCfg, path, err := loadGlobalConfig(opts.Env); err != nil {
		return Config{}, err
	} else if path != "" {
		applyFileConfig(&cfg, globalCfg, workDir, "global:"+path)
	}

	if projectCfg, path, err := loadProjectConfig(workDir, opts.ConfigPath); err != nil {
		return Config{}, err
	} else if path != "" {
		applyFileConfig(&cfg, projectCfg, workDir, "project:"+path)
	}

	applyEnv(&cfg, opts.Env)

	if cfg.VaultDir == "" {
		return Config{}, errVaultDirEmpty
	}

	cfg.DBPath = filepath.Join(cfg.DataDir, dbFileName)

	return cfg, nil
}

func applyFileConfig(cfg *Config, fc fileConfig, workDir, fromLabel string) {
	if fc.VaultDir != "" {
		cfg.VaultDir = resolveRelative(workDir, fc.VaultDir)
		cfg.VaultDirFrom = fromLabel
	}

	if fc.DataDir != "" {
		cfg.DataDir = resolveRelative(workDir, fc.DataDir)
		cfg.DataDirFrom = fromLabel
	}
}

func resolveRelative(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

// applyEnv applies CONTEXT_VAULT_DIR / CONTEXT_VAULT_DATA_DIR, the
// highest-precedence source, reading from env if provided (for
// deterministic tests) or os.Getenv otherwise.
func applyEnv(cfg *Config, env []string) {
	if v, ok := lookupEnv(env, "CONTEXT_VAULT_DIR"); ok && v != "" {
		cfg.VaultDir = v
		cfg.VaultDirFrom = "env:CONTEXT_VAULT_DIR"
	}

	if v, ok := lookupEnv(env, "CONTEXT_VAULT_DATA_DIR"); ok && v != "" {
		cfg.DataDir = v
		cfg.DataDirFrom = "env:CONTEXT_VAULT_DATA_DIR"
	}
}

func lookupEnv(env []string, key string) (string, bool) {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, key+"="); ok {
			return after, true
		}
	}

	if env != nil {
		return "", false
	}

	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}

	return "", false
}

// getGlobalConfigPath returns $XDG_CONFIG_HOME/contextvault/config.json, or
// ~/.config/contextvault/config.json when XDG_CONFIG_HOME is unset.
func getGlobalConfigPath(env []string) string {
	if xdg, ok := lookupEnv(env, "XDG_CONFIG_HOME"); ok && xdg != "" {
		return filepath.Join(xdg, "contextvault", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "contextvault", "config.json")
}

func loadGlobalConfig(env []string) (fileConfig, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return fileConfig{}, "", nil
	}

	fc, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return fileConfig{}, "", err
	}

	if !loaded {
		return fileConfig{}, "", nil
	}

	return fc, path, nil
}

func loadProjectConfig(workDir, configPath string) (fileConfig, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, err := os.Stat(cfgFile); err != nil {
			return fileConfig{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
	}

	fc, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return fileConfig{}, "", err
	}

	if !loaded {
		return fileConfig{}, "", nil
	}

	return fc, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return fileConfig{}, false, nil
		}

		if mustExist {
			return fileConfig{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return fileConfig{}, false, nil
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return fc, true, nil
}
