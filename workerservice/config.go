package workerservice

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig holds tunables for a Service: how many consecutive
// selection misses a worker tolerates before parking, and how long it
// parks before re-polling even without a wakeup notification. spec.md
// leaves the adaptive backoff algorithm's exact constants
// implementation-defined ("policy-dependent... do not reproduce the
// source's exact constants unless empirically justified"), so the
// defaults below are deliberately conservative rather than copied from
// any one source.
type ServiceConfig struct {
	SoftFailureThreshold int           `yaml:"soft_failure_threshold"`
	FailureSleep         time.Duration `yaml:"failure_sleep"`
}

const (
	defaultSoftFailureThreshold = 32
	defaultFailureSleep         = 2 * time.Millisecond
)

func (c ServiceConfig) softFailureThresholdOrDefault() int {
	if c.SoftFailureThreshold <= 0 {
		return defaultSoftFailureThreshold
	}
	return c.SoftFailureThreshold
}

func (c ServiceConfig) failureSleepOrDefault() time.Duration {
	if c.FailureSleep <= 0 {
		return defaultFailureSleep
	}
	return c.FailureSleep
}

// LoadServiceConfig reads a ServiceConfig from a YAML file at path. A
// missing file is not an error: the zero-value config (falling back to
// package defaults everywhere) is returned instead, mirroring the
// teacher's config.Load behavior of always returning usable defaults.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ServiceConfig{}, nil
	}
	if err != nil {
		return ServiceConfig{}, err
	}
	var cfg ServiceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}
