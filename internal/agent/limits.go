package agent

const (
	// processBufferSize is the buffer size for response chunk channels.
	processBufferSize = 10

	// maxConcurrentJobs limits concurrent async tool jobs per loop.
	maxConcurrentJobs = 50

	// MaxResponseTextSize caps accumulated response text per request (1MB).
	MaxResponseTextSize = 1 << 20

	// MaxToolCallsPerIteration caps the tool calls accepted in one iteration.
	MaxToolCallsPerIteration = 100
)
