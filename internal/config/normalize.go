package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeFusion()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CatalogPath) == "" {
		c.Paths.CatalogPath = filepath.Join(c.Paths.StateDir, defaultCatalogFile)
	}
	if c.Paths.CatalogPath, err = expandPath(c.Paths.CatalogPath); err != nil {
		return fmt.Errorf("paths.catalog_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) != "" {
		if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
			return fmt.Errorf("paths.log_dir: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "text":
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func (c *Config) normalizeFusion() {
	c.Fusion.TuneSchedule = strings.TrimSpace(c.Fusion.TuneSchedule)
	if c.Fusion.TuneSchedule == "" {
		c.Fusion.TuneSchedule = defaultTuneSchedule
	}
}
