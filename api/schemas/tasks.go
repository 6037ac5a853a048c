package schemas

// -- Task Schemas --

// Task is the immutable descriptor of one browsing task.
type Task struct {
	// StartURL is the absolute address the session navigates to first.
	StartURL string `json:"start_url"`
	// Goal is the natural-language objective handed to the Decision Service.
	Goal string `json:"goal"`
	// MaxIterations caps the perceive/decide/act loop. Zero means the
	// runner default (100).
	MaxIterations int `json:"max_iterations,omitempty"`
	// Callback, if set, is invoked once per iteration after the decided
	// actions have executed. Not serialized.
	Callback StepCallback `json:"-"`
}

// StepEvent is the payload delivered to a task's per-step callback.
type StepEvent struct {
	Iteration  int
	Screenshot []byte
	Actions    []Action
}

// StepCallback observes completed iterations. Its return value is ignored;
// a panicking callback must not corrupt runner state.
type StepCallback func(StepEvent)

// TaskState is the terminal (or in-flight) state of a task run.
type TaskState string

const (
	StateRunning   TaskState = "RUNNING"
	StateSucceeded TaskState = "SUCCEEDED"
	StateStopped   TaskState = "STOPPED"
	StateExhausted TaskState = "EXHAUSTED"
	StateFailed    TaskState = "FAILED"
)

// Terminal reports whether the state ends the task loop.
func (s TaskState) Terminal() bool {
	return s == StateSucceeded || s == StateStopped || s == StateExhausted || s == StateFailed
}

// TaskResult is returned to the caller for every task outcome. In-loop
// failures are captured here rather than thrown, so session cleanup always
// runs.
type TaskResult struct {
	State      TaskState
	Iterations int
	// LastDecision preserves the final decision payload as partial
	// progress, including for EXHAUSTED and FAILED runs.
	LastDecision *Decision
	// Output carries the content of the terminating success/stop action.
	Output string
	// Err is the underlying cause when State is StateFailed.
	Err error
}

// -- Step Outcome --

// OutcomeKind discriminates the per-action execution result.
type OutcomeKind string

const (
	OutcomeContinue OutcomeKind = "continue"
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeStop     OutcomeKind = "stop"
	OutcomeError    OutcomeKind = "error"
)

// StepOutcome is the result of executing one decided step (an ordered action
// list). Terminal kinds (success/stop) short-circuit the remaining actions of
// the step that produced them.
type StepOutcome struct {
	Kind    OutcomeKind
	Content string
	Reason  string
	// Log accumulates per-action execution notes, including caught
	// handler errors, and is fed back into the next decision prompt.
	Log string
}

// Terminal reports whether the outcome ends the task.
func (o StepOutcome) Terminal() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeStop
}
