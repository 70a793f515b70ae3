package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/alnah/corpusvad/internal/vad"
)

// appName names the directory under the user config root.
const appName = "corpusvad"

// Config keys.
const (
	KeyMergeThreshold = "merge-threshold"
	KeyMinDuration    = "min-duration"
	KeyWorkers        = "workers"
	KeyDevice         = "device"
	KeyDetector       = "detector"
	KeyModelPath      = "model-path"
	KeyLogDir         = "log-dir"
	KeyOutputDir      = "output-dir"
)

// Environment variable fallbacks.
const (
	EnvMergeThreshold = "CORPUSVAD_MERGE_THRESHOLD"
	EnvMinDuration    = "CORPUSVAD_MIN_DURATION"
	EnvWorkers        = "CORPUSVAD_WORKERS"
	EnvDevice         = "CORPUSVAD_DEVICE"
	EnvDetector       = "CORPUSVAD_DETECTOR"
	EnvModelPath      = "CORPUSVAD_MODEL_PATH"
	EnvLogDir         = "CORPUSVAD_LOG_DIR"
	EnvOutputDir      = "CORPUSVAD_OUTPUT_DIR"
)

// Sentinel errors.
var (
	ErrUnknownKey   = errors.New("unknown config key")
	ErrInvalidValue = errors.New("invalid config value")
	ErrNotDirectory = errors.New("path is not a directory")
	ErrNotWritable  = errors.New("directory is not writable")
)

// envByKey maps each key to its environment fallback.
var envByKey = map[string]string{
	KeyMergeThreshold: EnvMergeThreshold,
	KeyMinDuration:    EnvMinDuration,
	KeyWorkers:        EnvWorkers,
	KeyDevice:         EnvDevice,
	KeyDetector:       EnvDetector,
	KeyModelPath:      EnvModelPath,
	KeyLogDir:         EnvLogDir,
	KeyOutputDir:      EnvOutputDir,
}

// Keys returns every recognized key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(envByKey))
	for k := range envByKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// EnvFor returns the environment variable backing key.
func EnvFor(key string) string {
	return envByKey[key]
}

// Config holds user configuration loaded from ~/.config/corpusvad/config.
// Values are raw strings; an empty value means unset.
type Config struct {
	MergeThreshold string
	MinDuration    string
	Workers        string
	Device         string
	Detector       string
	ModelPath      string
	LogDir         string
	OutputDir      string
}

// Get returns the raw value of key.
func (c Config) Get(key string) string {
	switch key {
	case KeyMergeThreshold:
		return c.MergeThreshold
	case KeyMinDuration:
		return c.MinDuration
	case KeyWorkers:
		return c.Workers
	case KeyDevice:
		return c.Device
	case KeyDetector:
		return c.Detector
	case KeyModelPath:
		return c.ModelPath
	case KeyLogDir:
		return c.LogDir
	case KeyOutputDir:
		return c.OutputDir
	}
	return ""
}

func (c *Config) set(key, value string) {
	switch key {
	case KeyMergeThreshold:
		c.MergeThreshold = value
	case KeyMinDuration:
		c.MinDuration = value
	case KeyWorkers:
		c.Workers = value
	case KeyDevice:
		c.Device = value
	case KeyDetector:
		c.Detector = value
	case KeyModelPath:
		c.ModelPath = value
	case KeyLogDir:
		c.LogDir = value
	case KeyOutputDir:
		c.OutputDir = value
	}
}

// dir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/corpusvad.
func dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// path returns the full path to the config file.
func path() (string, error) {
	d, err := dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config"), nil
}

// Load reads the configuration file and environment variables.
// Precedence: config file values, then environment variable fallbacks.
// Returns an empty Config if the file doesn't exist (not an error).
func Load() (Config, error) {
	var cfg Config

	p, err := path()
	if err != nil {
		return cfg, err
	}

	if data, err := parseFile(p); err == nil {
		for _, key := range Keys() {
			cfg.set(key, data[key])
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	// Environment variable fallback (only if not set in config).
	for key, env := range envByKey {
		if cfg.Get(key) == "" {
			cfg.set(key, os.Getenv(env))
		}
	}

	return cfg, nil
}

// parseFile reads a key=value config file.
// Format: one key=value per line, # comments, empty lines ignored.
func parseFile(p string) (map[string]string, error) {
	f, err := os.Open(p) // #nosec G304 -- config path is constructed from home dir
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid syntax at line %d: %q", lineNum, line)
		}
		data[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return data, nil
}

// Validate checks that value is acceptable for key.
func Validate(key, value string) error {
	switch key {
	case KeyMergeThreshold, KeyMinDuration:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("%s must be a non-negative number of seconds, got %q: %w", key, value, ErrInvalidValue)
		}
	case KeyWorkers:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer, got %q: %w", key, value, ErrInvalidValue)
		}
	case KeyDetector:
		if !slices.Contains(vad.Kinds(), strings.ToLower(value)) {
			return fmt.Errorf("%s must be one of %s, got %q: %w",
				key, strings.Join(vad.Kinds(), ", "), value, ErrInvalidValue)
		}
	case KeyDevice:
		if !vad.ValidDevice(strings.ToLower(value)) {
			return fmt.Errorf("%s must be cpu, cuda or cuda:<n>, got %q: %w", key, value, ErrInvalidValue)
		}
	case KeyModelPath:
		if value == "" {
			return fmt.Errorf("%s cannot be empty: %w", key, ErrInvalidValue)
		}
	case KeyLogDir, KeyOutputDir:
		if err := EnsureDir(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	default:
		return fmt.Errorf("%q (valid: %s): %w", key, strings.Join(Keys(), ", "), ErrUnknownKey)
	}
	return nil
}

// Save writes a single key=value to the config file.
// Creates the config directory and file if they don't exist.
// Preserves existing key=value pairs but discards comments.
func Save(key, value string) error {
	p, err := path()
	if err != nil {
		return err
	}

	d := filepath.Dir(p)
	if err := os.MkdirAll(d, 0750); err != nil { // #nosec G301 -- user config dir
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	existing, _ := parseFile(p)
	if existing == nil {
		existing = make(map[string]string)
	}
	existing[key] = value

	return writeFile(p, existing)
}

// writeFile writes the config map to a file, keys sorted.
func writeFile(p string, data map[string]string) error {
	// #nosec G302 G304 -- config file with standard permissions, path from home dir
	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if _, err := fmt.Fprintf(f, "%s=%s\n", key, data[key]); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	return nil
}

// Get reads a single value from the config file.
// Returns empty string if the key doesn't exist.
func Get(key string) (string, error) {
	p, err := path()
	if err != nil {
		return "", err
	}

	data, err := parseFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	return data[key], nil
}

// List returns all config values as a map.
func List() (map[string]string, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}

	data, err := parseFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	return data, nil
}

// ResolveOutputPath resolves the final output path using the following precedence:
//  1. If output is absolute, use it as-is
//  2. If output is relative and outputDir is set, join them
//  3. If output is empty, use defaultName in outputDir (or cwd if no outputDir)
func ResolveOutputPath(output, outputDir, defaultName string) string {
	if output != "" && filepath.IsAbs(output) {
		return filepath.Clean(output)
	}

	if output != "" {
		if outputDir != "" {
			return filepath.Clean(filepath.Join(outputDir, output))
		}
		return filepath.Clean(output)
	}

	if outputDir != "" {
		return filepath.Clean(filepath.Join(outputDir, defaultName))
	}
	return filepath.Clean(defaultName)
}

// EnsureDir checks that d is a writable directory, creating it if missing.
func EnsureDir(d string) error {
	if d == "" {
		return fmt.Errorf("directory cannot be empty: %w", ErrInvalidValue)
	}
	d = ExpandPath(d)

	info, err := os.Stat(d)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(d, 0750); err != nil { // #nosec G301 -- user output dir
				return fmt.Errorf("cannot create directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", d, ErrNotDirectory)
	}

	testFile := filepath.Join(d, ".corpusvad-write-test")
	f, err := os.Create(testFile) // #nosec G304 -- path is constructed from validated dir
	if err != nil {
		return fmt.Errorf("%s: %w", d, ErrNotWritable)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(testFile)
		return fmt.Errorf("%s: %w", d, ErrNotWritable)
	}
	_ = os.Remove(testFile)

	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
}

// Dir returns the configuration directory path.
func Dir() (string, error) {
	return dir()
}
