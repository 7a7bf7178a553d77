package harness

// Step kinds recorded in the trace.
const (
	KindEvent   = "event"
	KindRaw     = "raw"
	KindForce   = "force"
	KindAdvance = "advance"
)

// ActionTrace is one executed action. Durations are left out so traces
// stay deterministic.
type ActionTrace struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// TraceEvent records what one scenario step did.
type TraceEvent struct {
	Step    int           `json:"step"`
	Kind    string        `json:"kind"`
	Trigger string        `json:"trigger,omitempty"`
	Status  string        `json:"status,omitempty"`
	Rule    string        `json:"rule,omitempty"`
	From    string        `json:"from,omitempty"`
	To      string        `json:"to,omitempty"`
	Locked  bool          `json:"locked"`
	Actions []ActionTrace `json:"actions,omitempty"`
	Advance string        `json:"advance,omitempty"`
}

// FinalState is the zone state after the last step.
type FinalState struct {
	Zone      string   `json:"zone"`
	Locked    bool     `json:"locked"`
	Witnesses []string `json:"witnesses"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Actions lists every executed action in execution order.
	Actions []string `json:"actions"`

	Final FinalState `json:"final"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Actions: []string{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
