// Package config loads and saves exslim settings files.
//
// A settings file is YAML (.yaml, .yml) or JSON with comments (any other
// extension). JSONC input is stripped with github.com/tidwall/jsonc and then
// decoded with encoding/json. Settings are passed explicitly to whoever needs
// them; nothing is cached process-wide.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ukaji3/exslim-go/pkg/exslim"
	"github.com/ukaji3/exslim-go/pkg/exslim/imaging"
)

// AppName names the per-user settings directory.
const AppName = "ExcelSlimmer"

// LogMode selects how much the tools report.
type LogMode string

const (
	// LogMinimal reports warnings and errors only.
	LogMinimal LogMode = "minimal"
	// LogVerbose reports every stage summary.
	LogVerbose LogMode = "verbose"
)

// Settings mirrors the settings file.
type Settings struct {
	// OutputDir is where results are written. Empty means next to the input.
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	// KeepBackup leaves a copy of the input as <stem>_backup<ext> in the
	// output directory.
	KeepBackup bool `json:"keep_backup" yaml:"keep_backup"`

	ImageMaxEdge int     `json:"image_max_edge" yaml:"image_max_edge"`
	ImageQuality int     `json:"image_quality" yaml:"image_quality"`
	LogMode      LogMode `json:"log_mode" yaml:"log_mode"`

	Pipeline Pipeline `json:"pipeline" yaml:"pipeline"`
}

// Pipeline holds the stage switches.
type Pipeline struct {
	CleanNames     bool   `json:"use_clean" yaml:"use_clean"`
	SlimImages     bool   `json:"use_image" yaml:"use_image"`
	Precision      bool   `json:"use_precision" yaml:"use_precision"`
	Aggressive     bool   `json:"aggressive" yaml:"aggressive"`
	XMLCleanup     bool   `json:"do_xml_cleanup" yaml:"do_xml_cleanup"`
	ForceCustomXML bool   `json:"force_custom" yaml:"force_custom"`
	ConvertTo      string `json:"convert_to,omitempty" yaml:"convert_to,omitempty"`
	ConvertFrom    string `json:"convert_from,omitempty" yaml:"convert_from,omitempty"`
	Workers        int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	Verify         bool   `json:"verify" yaml:"verify"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		ImageMaxEdge: imaging.DefaultMaxEdge,
		ImageQuality: imaging.DefaultQuality,
		LogMode:      LogVerbose,
		Pipeline: Pipeline{
			CleanNames: true,
			SlimImages: true,
		},
	}
}

// DefaultPath returns the per-user settings file: %APPDATA%\ExcelSlimmer
// when APPDATA is set, ~/.ExcelSlimmer otherwise.
func DefaultPath() (string, error) {
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		return filepath.Join(appdata, AppName, "settings.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate settings directory: %w", err)
	}
	return filepath.Join(home, "."+AppName, "settings.json"), nil
}

// Load reads a settings file. Keys missing from the file keep their
// defaults and unknown keys are ignored.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	s := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, &s)
	} else {
		err = json.Unmarshal(jsonc.ToJSON(data), &s)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}
	return s.Normalize(), nil
}

// LoadOrDefault is Load that treats a missing file as the defaults.
func LoadOrDefault(path string) (Settings, error) {
	s, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return s, err
}

// Save writes s to path, creating the directory. The encoding follows the
// extension, as in Load.
func Save(path string, s Settings) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(s); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Validate rejects values that cannot be clamped into range.
func (s Settings) Validate() error {
	switch s.LogMode {
	case "", LogMinimal, LogVerbose:
	default:
		return fmt.Errorf("invalid log_mode %q (must be minimal or verbose)", s.LogMode)
	}
	for _, f := range []string{s.Pipeline.ConvertTo, s.Pipeline.ConvertFrom} {
		if f == "" {
			continue
		}
		format, err := imaging.ParseFormat(f)
		if err != nil {
			return err
		}
		if !format.Supported() {
			return fmt.Errorf("cannot convert %s images", format)
		}
	}
	return nil
}

// Normalize clamps the image targets and fills an empty log mode.
func (s Settings) Normalize() Settings {
	if s.ImageMaxEdge == 0 {
		s.ImageMaxEdge = imaging.DefaultMaxEdge
	}
	if s.ImageQuality == 0 {
		s.ImageQuality = imaging.DefaultQuality
	}
	s.ImageMaxEdge = lo.Clamp(s.ImageMaxEdge, imaging.MinMaxEdge, imaging.MaxMaxEdge)
	s.ImageQuality = lo.Clamp(s.ImageQuality, imaging.MinQuality, imaging.MaxQuality)
	if s.LogMode == "" {
		s.LogMode = LogVerbose
	}
	return s
}

// LogLevel maps the log mode to a slog level.
func (s Settings) LogLevel() slog.Level {
	if s.LogMode == LogMinimal {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Options converts the settings into pipeline options. Formats were checked
// by Validate; unparsable ones are left unset.
func (s Settings) Options(logger *slog.Logger) exslim.Options {
	s = s.Normalize()
	p := s.Pipeline
	opts := exslim.Options{
		CleanNames:     p.CleanNames,
		SlimImages:     p.SlimImages,
		Precision:      p.Precision,
		Aggressive:     p.Aggressive,
		XMLCleanup:     p.XMLCleanup,
		ForceCustomXML: p.ForceCustomXML,
		Image: imaging.Options{
			MaxEdge: s.ImageMaxEdge,
			Quality: s.ImageQuality,
		},
		Workers: p.Workers,
		Verify:  p.Verify,
		Logger:  logger,
	}
	if f, err := imaging.ParseFormat(p.ConvertTo); err == nil {
		opts.ConvertTo = f
	}
	if f, err := imaging.ParseFormat(p.ConvertFrom); err == nil {
		opts.ConvertFrom = f
	}
	return opts
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
