package nomad

import "errors"

// JobConfig holds the configuration required to generate a Nomad job for one
// preview service.
type JobConfig struct {
	EnvironmentID string
	ServiceID     string
	Image         string
	CommitRef     string
	Port          int
	HealthPath    string
}

// Validate checks if the JobConfig is valid.
func (c JobConfig) Validate() error {
	if c.EnvironmentID == "" {
		return errors.New("environment id is required")
	}
	if c.ServiceID == "" {
		return errors.New("service id is required")
	}
	if c.Image == "" {
		return errors.New("image is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	return nil
}
