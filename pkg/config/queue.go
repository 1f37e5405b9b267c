package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig contains scheduler and worker configuration.
type QueueConfig struct {
	// WorkerCount is the number of scheduler worker goroutines.
	WorkerCount int

	// PollInterval is the base interval for checking the todo queue.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// JobTimeout is the maximum time a single job may execute.
	JobTimeout time.Duration

	// GracefulShutdownTimeout is the max time to wait for running jobs
	// to complete during shutdown.
	GracefulShutdownTimeout time.Duration
}

// queueYAML is the YAML shape of QueueConfig; durations are Go duration
// strings ("250ms", "10m").
type queueYAML struct {
	WorkerCount             int    `yaml:"worker_count"`
	PollInterval            string `yaml:"poll_interval"`
	PollIntervalJitter      string `yaml:"poll_interval_jitter"`
	JobTimeout              string `yaml:"job_timeout"`
	GracefulShutdownTimeout string `yaml:"graceful_shutdown_timeout"`
}

// UnmarshalYAML decodes duration strings into time.Duration fields.
// Omitted durations inherit the built-in defaults.
func (q *QueueConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw queueYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}

	defaults := DefaultQueueConfig()
	*q = *defaults
	if raw.WorkerCount != 0 {
		q.WorkerCount = raw.WorkerCount
	}

	parse := func(name, s string, dst *time.Duration) error {
		if s == "" {
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("queue.%s: %w", name, err)
		}
		*dst = d
		return nil
	}
	if err := parse("poll_interval", raw.PollInterval, &q.PollInterval); err != nil {
		return err
	}
	if err := parse("poll_interval_jitter", raw.PollIntervalJitter, &q.PollIntervalJitter); err != nil {
		return err
	}
	if err := parse("job_timeout", raw.JobTimeout, &q.JobTimeout); err != nil {
		return err
	}
	return parse("graceful_shutdown_timeout", raw.GracefulShutdownTimeout, &q.GracefulShutdownTimeout)
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             2,
		PollInterval:            250 * time.Millisecond,
		PollIntervalJitter:      100 * time.Millisecond,
		JobTimeout:              10 * time.Minute,
		GracefulShutdownTimeout: 10 * time.Minute,
	}
}
