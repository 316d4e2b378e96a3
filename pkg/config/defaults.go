package config

import "time"

// Defaults contains system-wide default configurations used when specific
// components don't specify their own values.
type Defaults struct {
	// DefaultPriority is the priority assigned to a WO that doesn't declare one.
	DefaultPriority string `yaml:"default_priority,omitempty"`

	// LowPriorityAutoApprove lists priorities that auto-transition
	// draft→ready on creation instead of waiting for an explicit approve.
	LowPriorityAutoApprove []string `yaml:"low_priority_auto_approve,omitempty"`

	// DeploymentTags is the tag set whose presence on a WO requires a
	// deployment_verification log entry before submit_for_review/mark_complete.
	DeploymentTags []string `yaml:"deployment_tags,omitempty"`
}

// DefaultDefaults returns the built-in system defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		DefaultPriority:        "p2_medium",
		LowPriorityAutoApprove: []string{"p2_medium", "p3_low"},
		DeploymentTags:         []string{"edge-function", "deploy", "deployment", "schema", "migration"},
	}
}

// QueueConfig controls the Ops Control Loop's scan cadence and stuck/retry
// thresholds. Field names mirror the teacher's queue.QueueConfig shape.
type QueueConfig struct {
	// ScanInterval is how often the ops loop's external trigger is expected
	// to fire; also used as the default ticker period when run in-process.
	ScanInterval time.Duration `yaml:"scan_interval"`

	// HealthyIdleThreshold is the minutes_idle ceiling below which an
	// in_progress WO is left alone.
	HealthyIdleThreshold time.Duration `yaml:"healthy_idle_threshold"`

	// CheckpointLookback is how far back to look for a checkpoint/continuation
	// log entry before classifying an idle WO as continuation_skipped.
	CheckpointLookback time.Duration `yaml:"checkpoint_lookback"`

	// MaxRedispatchRetries is the retry ceiling before a stuck WO is
	// classified into a failure archetype instead of redispatched again.
	MaxRedispatchRetries int `yaml:"max_redispatch_retries"`

	// MaxFailureAttempts is the circuit-breaker ceiling on mark_failed
	// attempts for a single WO before the ops loop gives up and leaves it
	// for human action.
	MaxFailureAttempts int `yaml:"max_failure_attempts"`

	// ExplorationSpiralReadWriteRatio is the SELECT:write ratio above which
	// a stuck WO with >= ExplorationSpiralMinReads reads is classified
	// exploration_spiral.
	ExplorationSpiralReadWriteRatio float64 `yaml:"exploration_spiral_ratio"`
	ExplorationSpiralMinReads       int     `yaml:"exploration_spiral_min_reads"`

	// ErrorSpikeWindow and ErrorSpikeThreshold configure the error-spike probe.
	ErrorSpikeWindow    time.Duration `yaml:"error_spike_window"`
	ErrorSpikeThreshold int           `yaml:"error_spike_threshold"`
}

// DefaultQueueConfig returns the built-in ops-loop defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		ScanInterval:                    1 * time.Minute,
		HealthyIdleThreshold:            10 * time.Minute,
		CheckpointLookback:              15 * time.Minute,
		MaxRedispatchRetries:            3,
		MaxFailureAttempts:              3,
		ExplorationSpiralReadWriteRatio: 5.0,
		ExplorationSpiralMinReads:       10,
		ErrorSpikeWindow:                10 * time.Minute,
		ErrorSpikeThreshold:             5,
	}
}

// RetentionConfig controls the clarification-expiry sweep: pending
// ClarificationRequests older than TTL are marked expired.
type RetentionConfig struct {
	ClarificationTTL  time.Duration `yaml:"clarification_ttl"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ClarificationTTL: 72 * time.Hour,
		CleanupInterval:  1 * time.Hour,
	}
}
