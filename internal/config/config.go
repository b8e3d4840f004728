// internal/config/config.go
//
// This package turns the layered property sources (defaults, orchestra.yaml,
// a .env file and the process environment) into one immutable Snapshot.
// Everything downstream reads properties from the snapshot only.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Property names understood by the bootstrap layer.
const (
	KeyExecutorNum     = "service.orchestration.executor.num"
	KeyDeployLocal     = "service.orchestration.location"
	KeyResourceRoots   = "orchestra.resource.roots"
	KeyLogLevel        = "orchestra.log.level"
	KeyLogFormat       = "orchestra.log.format"
	KeyLogFile         = "orchestra.log.file"
	KeyHTTPAddr        = "orchestra.http.addr"
	KeyPluginsDir      = "orchestra.plugins.dir"
	KeyResolverPolicy  = "orchestra.resolver.policy"
	DefaultConfigFile  = "orchestra.yaml"
	DefaultEnvFile     = ".env"
	DefaultExecutorNum = "4"
	DefaultDeployLocal = "true"
)

// Defaults lists the value every known property takes when no source sets it.
var Defaults = map[string]string{
	KeyExecutorNum:    DefaultExecutorNum,
	KeyDeployLocal:    DefaultDeployLocal,
	KeyResourceRoots:  ".",
	KeyLogLevel:       "info",
	KeyLogFormat:      "text",
	KeyLogFile:        "",
	KeyHTTPAddr:       "127.0.0.1:8085",
	KeyPluginsDir:     "plugins",
	KeyResolverPolicy: "type-only",
}

// DefaultConfigYAML is written by `orchestra init`.
const DefaultConfigYAML = `# orchestra configuration
service:
  orchestration:
    executor:
      # Number of workers in the fork/join pool.
      num: 4
    # Deploy service-orchestration/*.xml from the resource roots at startup.
    location: true

orchestra:
  resource:
    # Comma separated directories, .zip/.jar archives.
    roots: "."
  log:
    level: info
    format: text
    file: ""
  http:
    addr: 127.0.0.1:8085
  plugins:
    dir: plugins
  resolver:
    # type-only or type-then-name
    policy: type-only
`

// LoadOptions selects the files consulted by Load.
type LoadOptions struct {
	// ConfigFile is a YAML file. Empty means orchestra.yaml in the working
	// directory, silently skipped when absent.
	ConfigFile string
	// EnvFile is a dotenv file. Empty means .env, silently skipped when absent.
	EnvFile string
	// Overrides win over every other source (command line flags).
	Overrides map[string]string
}

// Snapshot is a frozen view of all properties.
type Snapshot struct {
	values map[string]string
}

// Load reads every source once and freezes the result.
func Load(opts LoadOptions) (Snapshot, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return Snapshot{}, err
	}
	if err := applyEnvFile(v, opts.EnvFile); err != nil {
		return Snapshot{}, err
	}
	for key, value := range opts.Overrides {
		v.Set(normalizeKey(key), value)
	}
	values := make(map[string]string)
	for _, key := range v.AllKeys() {
		values[key] = strings.TrimSpace(v.GetString(key))
	}
	return Snapshot{values: values}, nil
}

// FromMap builds a snapshot from literal values on top of Defaults.
func FromMap(values map[string]string) Snapshot {
	out := make(map[string]string, len(Defaults)+len(values))
	for key, value := range Defaults {
		out[key] = value
	}
	for key, value := range values {
		out[normalizeKey(key)] = value
	}
	return Snapshot{values: out}
}

// Get returns the property value, or def when the key is not set.
func (s Snapshot) Get(key, def string) string {
	if value, ok := s.values[normalizeKey(key)]; ok {
		return value
	}
	return def
}

// Lookup reports whether key is set.
func (s Snapshot) Lookup(key string) (string, bool) {
	value, ok := s.values[normalizeKey(key)]
	return value, ok
}

// With returns a copy of the snapshot with key set to value.
func (s Snapshot) With(key, value string) Snapshot {
	out := make(map[string]string, len(s.values)+1)
	for k, v := range s.values {
		out[k] = v
	}
	out[normalizeKey(key)] = value
	return Snapshot{values: out}
}

// Without returns a copy of the snapshot with key removed.
func (s Snapshot) Without(key string) Snapshot {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	delete(out, normalizeKey(key))
	return Snapshot{values: out}
}

// Keys returns the sorted property names.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResourceRoots splits the comma separated resource roots property.
func (s Snapshot) ResourceRoots() []string {
	return SplitList(s.Get(KeyResourceRoots, Defaults[KeyResourceRoots]))
}

// SplitList splits a comma separated property value, dropping blank entries.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// EnvName maps a property name to its environment variable.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(normalizeKey(key), ".", "_"))
}

// WriteDefault writes DefaultConfigYAML to path unless a file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: ensure dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(DefaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("config: %s: %w", path, err)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnvFile copies dotenv entries for known keys into v, unless the real
// environment already sets the same variable.
func applyEnvFile(v *viper.Viper, path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultEnvFile
	}
	entries, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("config: env file %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		name := EnvName(key)
		value, ok := entries[name]
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(name); set {
			continue
		}
		v.Set(key, value)
	}
	return nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
