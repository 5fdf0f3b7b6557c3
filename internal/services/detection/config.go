package detection

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"kepler-multicam-go/internal/models"
)

// Config describes the batched detector
type Config struct {
	Endpoint            string        `yaml:"endpoint"`
	Model               string        `yaml:"model"`
	BatchSize           int           `yaml:"batch_size"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float32       `yaml:"confidence_threshold"`
	Labels              []string      `yaml:"labels"`
}

// LoadConfig reads the detector YAML file. A missing or unreadable file is a
// ConfigurationError.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		reason := "cannot read detector config"
		if errors.Is(err, fs.ErrNotExist) {
			reason = "detector config not found"
		}
		return nil, &models.ConfigurationError{Field: "DETECTOR_CONFIG", Reason: reason + " " + path, Err: err}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &models.ConfigurationError{Field: "DETECTOR_CONFIG", Reason: "invalid YAML in " + path, Err: err}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return cfg, nil
}

// ApplySources pins the batch size to the number of sources and fills the
// endpoint from the environment when the file leaves it empty.
func (c *Config) ApplySources(n int, endpointOverride string) error {
	if endpointOverride != "" {
		c.Endpoint = endpointOverride
	}
	if c.Endpoint == "" {
		return &models.ConfigurationError{Field: "endpoint", Reason: "detector endpoint is required"}
	}
	if n <= 0 {
		return &models.ConfigurationError{Field: "batch_size", Reason: fmt.Sprintf("invalid source count %d", n)}
	}
	if c.BatchSize != n {
		log.Warn().
			Int("configured_batch_size", c.BatchSize).
			Int("sources", n).
			Msg("Detector batch size does not match source count, overriding")
		c.BatchSize = n
	}
	return nil
}

// Label returns the configured label of a class id
func (c *Config) Label(classID int) string {
	if classID >= 0 && classID < len(c.Labels) {
		return c.Labels[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}
