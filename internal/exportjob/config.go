package exportjob

import "time"

type Config struct {
	Bucket             string
	RetentionPeriod    time.Duration
	MaxConcurrentJobs  int
	MaxQueueDepth      int
	MaxRetries         int
	RetryBaseDelay     time.Duration
	QueueRetryAfter    time.Duration
	SignURLTTL         time.Duration
	RateLimitPerMinute int
}

func DefaultConfig() Config {
	return Config{
		Bucket:             "audit-exports",
		RetentionPeriod:    24 * time.Hour,
		MaxConcurrentJobs:  2,
		MaxQueueDepth:      20,
		MaxRetries:         3,
		RetryBaseDelay:     time.Second,
		QueueRetryAfter:    30 * time.Second,
		SignURLTTL:         10 * time.Minute,
		RateLimitPerMinute: 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Bucket == "" {
		c.Bucket = d.Bucket
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = d.RetentionPeriod
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = d.MaxConcurrentJobs
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.QueueRetryAfter <= 0 {
		c.QueueRetryAfter = d.QueueRetryAfter
	}
	if c.SignURLTTL <= 0 {
		c.SignURLTTL = d.SignURLTTL
	}
	return c
}
