package pipeline

// State is the lifecycle state of a pipeline
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)
