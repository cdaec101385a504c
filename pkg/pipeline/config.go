package pipeline

import "time"

const (
	// DefaultWorkerCount matches the usual concurrentConsumers setting
	DefaultWorkerCount = 5

	DefaultQueueSize      = 100
	DefaultRecordTimeout  = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultMultiplier     = 2.0
	DefaultJitterFactor   = 0.1
	DefaultMaxRequeues    = 3
)

// Config holds ingestion pipeline settings
type Config struct {
	// Enabled gates all work; a disabled pipeline refuses submissions
	Enabled bool

	// WorkerCount is the number of records processed concurrently
	WorkerCount int

	// QueueSize bounds the number of records waiting for a worker
	QueueSize int

	// RecordTimeout bounds one attempt at one record
	RecordTimeout time.Duration

	// MaxRetries bounds retries of transient failures before dead-lettering
	MaxRetries int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// JitterFactor spreads retries by +/- the given fraction of the delay
	JitterFactor float64

	// MaxRequeues bounds how often a timed-out record goes back on the queue
	MaxRequeues int
}

// DefaultConfig returns an enabled pipeline with default limits
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		WorkerCount:       DefaultWorkerCount,
		QueueSize:         DefaultQueueSize,
		RecordTimeout:     DefaultRecordTimeout,
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultMultiplier,
		JitterFactor:      DefaultJitterFactor,
		MaxRequeues:       DefaultMaxRequeues,
	}
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = DefaultWorkerCount
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = DefaultRecordTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = DefaultMultiplier
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.MaxRequeues < 0 {
		c.MaxRequeues = 0
	}
	return c
}
