package engine

import "time"

const (
	defaultCaptureMaxBytes int64 = 64 * 1024
	defaultKillRetries           = 5
	defaultAlarmGrace            = 500 * time.Millisecond
	defaultSetupTimeout          = 10 * time.Second
	killRetryInterval            = 20 * time.Millisecond
)

// Config controls sandbox engine behavior.
type Config struct {
	// HelperPath is the binary run as the child phase. Empty re-executes the
	// current binary, which must call initproc.Hook at startup.
	HelperPath string `yaml:"helperPath"`
	// DisableSeccomp skips the profile's syscall denylist. Sessions with a
	// non-empty denylist then log a warning.
	DisableSeccomp bool `yaml:"disableSeccomp"`
	// CaptureMaxBytes bounds each of stdout and stderr.
	CaptureMaxBytes int64 `yaml:"captureMaxBytes"`
	// KillRetries is how often SIGKILL is retried on expiry.
	KillRetries int `yaml:"killRetries"`
	// AlarmGrace is added to the time limit for the in-kernel alarm.
	AlarmGrace time.Duration `yaml:"alarmGrace"`
	// SetupTimeout bounds the child phase, from start until exec.
	SetupTimeout time.Duration `yaml:"setupTimeout"`
}

func (c *Config) applyDefaults() {
	if c.CaptureMaxBytes <= 0 {
		c.CaptureMaxBytes = defaultCaptureMaxBytes
	}
	if c.KillRetries <= 0 {
		c.KillRetries = defaultKillRetries
	}
	if c.AlarmGrace < 0 {
		c.AlarmGrace = 0
	} else if c.AlarmGrace == 0 {
		c.AlarmGrace = defaultAlarmGrace
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
}
