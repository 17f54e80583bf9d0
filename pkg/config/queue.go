package config

// QueueConfig controls the worker pool each queue.Broker is drained by
// (§4.3). One WorkerCount applies per broker instance — the updates,
// agent-turns, approval-timeouts and approval-countdowns queues are each
// given their own pool of this size; the retry-deadletter pool is fixed at
// 2 workers in main.go and does not use this value.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines draining a broker.
	WorkerCount int `yaml:"worker_count" validate:"required,min=1,max=50"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{WorkerCount: 5}
}
