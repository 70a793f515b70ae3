package planner

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file name of a shard manifest inside its log dir.
const ManifestName = "shard.yaml"

// Settings are the extraction knobs shared by every shard of a run.
type Settings struct {
	CorpusDir      string  `yaml:"corpus_dir"`
	MergeThreshold float64 `yaml:"merge_threshold"`
	MinDuration    float64 `yaml:"min_duration"`
	Detector       string  `yaml:"detector"`
	ModelPath      string  `yaml:"model_path,omitempty"`
	Device         string  `yaml:"device"`
	// ExportDir, when set, receives one WAV clip per kept segment.
	ExportDir      string  `yaml:"export_dir,omitempty"`
}

// Manifest is everything a worker process needs to run one shard.
type Manifest struct {
	RunID    string   `yaml:"run_id"`
	Shard    Shard    `yaml:"shard"`
	Settings Settings `yaml:"settings"`
}

// WriteManifest stores m in its shard log directory and returns the path.
// The manifest is rewritten on every run; checkpoint logs are not touched.
func WriteManifest(m Manifest) (string, error) {
	if err := os.MkdirAll(m.Shard.LogDir, 0750); err != nil { // #nosec G301 -- log dir chosen by the operator
		return "", fmt.Errorf("create shard dir: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	path := filepath.Join(m.Shard.LogDir, ManifestName)
	if err := os.WriteFile(path, data, 0644); err != nil { // #nosec G306 -- not secret
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path) // #nosec G304 -- manifest path passed by the parent process
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.Shard.LogDir == "" || m.Settings.CorpusDir == "" {
		return m, fmt.Errorf("%w: missing log_dir or corpus_dir", ErrInvalidManifest)
	}
	return m, nil
}
