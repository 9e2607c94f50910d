package worker

// State is the worker loop position.
type State int

const (
	StateIdle State = iota + 1
	StateClaiming
	StateProcessing
	StateResolving
	StateDrained
	StateExhausted
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClaiming:
		return "claiming"
	case StateProcessing:
		return "processing"
	case StateResolving:
		return "resolving"
	case StateDrained:
		return "drained"
	case StateExhausted:
		return "exhausted"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Summary is what one worker did during its run.
type Summary struct {
	State       State    `json:"-"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	Exhausted   bool     `json:"exhausted"`
	Interrupted bool     `json:"interrupted"`
	Completed   []string `json:"completed,omitempty"`
	FailedJobs  []string `json:"failed_jobs,omitempty"`
}

// Exit codes reported by the worker command.
const (
	ExitOK          = 0
	ExitFailures    = 1
	ExitInterrupted = 130
)

// ExitCode is 0 only when the run drained with no failures.
func (s Summary) ExitCode() int {
	switch {
	case s.Interrupted:
		return ExitInterrupted
	case s.Failed > 0, s.Exhausted:
		return ExitFailures
	default:
		return ExitOK
	}
}
