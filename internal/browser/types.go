// Package browser drives a headless Chrome tab as a live, scrollable
// document for incremental collection.
package browser

import (
	"errors"
	"time"
)

var (
	ErrNotNavigated = errors.New("page has not been loaded")
	ErrClosed       = errors.New("browser is closed")
)

// Config defines browser automation configuration
type Config struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	UserDataDir    string        `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	WaitForElement string        `yaml:"wait_for_element,omitempty" json:"wait_for_element,omitempty"`
	WaitDelay      time.Duration `yaml:"wait_delay,omitempty" json:"wait_delay,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	DisableImages  bool          `yaml:"disable_images" json:"disable_images"`
	// ScrollStep is the fraction of the viewport height scrolled per step.
	ScrollStep float64 `yaml:"scroll_step" json:"scroll_step"`
}

// DefaultConfig returns default browser configuration
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		Timeout:        5 * time.Minute,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		WaitDelay:      time.Second,
		DisableImages:  true,
		ScrollStep:     1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = def.ViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = def.ViewportHeight
	}
	if c.ScrollStep <= 0 {
		c.ScrollStep = def.ScrollStep
	}
	return c
}

// Stats contains browser automation statistics
type Stats struct {
	PagesLoaded     int           `json:"pages_loaded"`
	Snapshots       int           `json:"snapshots"`
	Scrolls         int           `json:"scrolls"`
	AverageLoadTime time.Duration `json:"average_load_time"`
	Errors          int           `json:"errors"`
}
