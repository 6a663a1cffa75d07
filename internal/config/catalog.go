package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hdri-calibrator/internal/domain"
)

// ErrConfigurationNotFound is returned for unknown configuration names.
var ErrConfigurationNotFound = errors.New("configuration not found")

const configurationFile = "configuration.json"

// File names of the calibration copies kept next to configuration.json.
const (
	ResponseFileName          = "responseFunction.rsp"
	VignettingFileName        = "v_correction.cal"
	FisheyeFileName           = "fe_correction.cal"
	NDFilterFileName          = "nd_correction.cal"
	CalibrationFactorFileName = "cf_correction.cal"
)

// Catalog stores named calibration configurations, one directory each.
type Catalog struct {
	dir  string
	logf func(format string, v ...interface{})
}

// NewCatalog creates a catalog rooted at dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, logf: log.Printf}
}

// Save copies the configuration's calibration files into the catalog and
// writes configuration.json pointing at the copies. An existing
// configuration with the same name is replaced.
func (c *Catalog) Save(cfg domain.SavedConfiguration) (domain.SavedConfiguration, error) {
	name := SanitizeName(cfg.Name)
	dir := filepath.Join(c.dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.SavedConfiguration{}, err
	}

	saved := cfg
	saved.Name = name
	for _, f := range []struct {
		path *string
		name string
	}{
		{&saved.ResponsePath, ResponseFileName},
		{&saved.VignettingPath, VignettingFileName},
		{&saved.FisheyePath, FisheyeFileName},
		{&saved.NDFilterPath, NDFilterFileName},
		{&saved.CalibrationFactorPath, CalibrationFactorFileName},
	} {
		dst := filepath.Join(dir, f.name)
		if *f.path == "" {
			if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
				return domain.SavedConfiguration{}, err
			}
			continue
		}
		if filepath.Clean(*f.path) != dst {
			if err := copyFile(*f.path, dst); err != nil {
				return domain.SavedConfiguration{}, fmt.Errorf("copy %s: %w", f.name, err)
			}
		}
		*f.path = dst
	}

	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return domain.SavedConfiguration{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, configurationFile), data, 0o644); err != nil {
		return domain.SavedConfiguration{}, err
	}
	return saved, nil
}

// Get loads one configuration by name.
func (c *Catalog) Get(name string) (domain.SavedConfiguration, error) {
	cfg, err := c.load(filepath.Join(c.dir, SanitizeName(name)))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("%w: %s", ErrConfigurationNotFound, name)
	}
	return cfg, err
}

// List returns every configuration sorted by name. Entries that cannot be
// read or reference a missing calibration file are skipped.
func (c *Catalog) List() ([]domain.SavedConfiguration, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []domain.SavedConfiguration
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cfg, err := c.load(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			c.logf("skipping configuration %s: %v", entry.Name(), err)
			continue
		}
		out = append(out, cfg)
	}

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Delete removes a configuration and its calibration copies.
func (c *Catalog) Delete(name string) error {
	dir := filepath.Join(c.dir, SanitizeName(name))
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigurationNotFound, name)
		}
		return err
	}
	return os.RemoveAll(dir)
}

func (c *Catalog) load(dir string) (domain.SavedConfiguration, error) {
	var cfg domain.SavedConfiguration

	data, err := os.ReadFile(filepath.Join(dir, configurationFile))
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	for _, p := range []string{
		cfg.ResponsePath, cfg.VignettingPath, cfg.FisheyePath,
		cfg.NDFilterPath, cfg.CalibrationFactorPath,
	} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return cfg, fmt.Errorf("calibration file %s: %w", p, err)
		}
	}
	return cfg, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SanitizeName makes a safe directory name from a configuration name. Any
// character other than ASCII letters, digits, dot, underscore or dash becomes
// an underscore, repeated underscores collapse and the result is capped.
func SanitizeName(s string) string {
	const maxLen = 128

	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}
