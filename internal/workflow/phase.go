package workflow

// Phase is a step of the story execution state machine.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseInitializing     Phase = "initializing"
	PhasePRDClarifying    Phase = "prd_clarifying"
	PhasePRDGenerating    Phase = "prd_generating"
	PhasePRDReviewing     Phase = "prd_reviewing"
	PhaseQueued           Phase = "queued"
	PhasePlanning         Phase = "planning"
	PhaseCoding           Phase = "coding"
	PhaseVerifying        Phase = "verifying"
	PhaseCircularDetected Phase = "circular_detected"
	PhaseTaskReviewing    Phase = "task_reviewing"
	PhaseCompleting       Phase = "completing"
	PhaseCompleted        Phase = "completed"
	PhaseError            Phase = "error"
	PhaseFailed           Phase = "failed"
	PhaseStopped          Phase = "stopped"
)

// AllPhases lists every phase in declaration order.
var AllPhases = []Phase{
	PhaseIdle, PhaseInitializing, PhasePRDClarifying, PhasePRDGenerating, PhasePRDReviewing,
	PhaseQueued, PhasePlanning, PhaseCoding, PhaseVerifying, PhaseCircularDetected,
	PhaseTaskReviewing, PhaseCompleting, PhaseCompleted, PhaseError, PhaseFailed, PhaseStopped,
}

// IsTerminal reports whether no further work happens without a new Initialize.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseFailed, PhaseStopped:
		return true
	}
	return false
}

// IsPRD reports whether p is one of the PRD authoring phases.
func (p Phase) IsPRD() bool {
	return p == PhasePRDClarifying || p == PhasePRDGenerating || p == PhasePRDReviewing
}

// busy phases have an agent process or verification run in flight.
func (p Phase) busy() bool {
	return p == PhaseCoding || p == PhaseVerifying
}

// allowedTransitions maps each phase to the phases it may move to. Stop and
// Fail are accepted from every non-terminal phase and are added in init.
var allowedTransitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseInitializing, PhasePRDClarifying},
	PhaseInitializing:     {PhaseInitializing, PhasePRDClarifying, PhasePlanning, PhaseCoding},
	PhasePRDClarifying:    {PhaseInitializing, PhasePRDGenerating, PhaseQueued},
	PhasePRDGenerating:    {PhaseInitializing, PhasePRDReviewing, PhasePRDClarifying, PhaseQueued},
	PhasePRDReviewing:     {PhaseInitializing, PhasePRDGenerating, PhaseQueued},
	PhaseQueued:           {PhaseInitializing},
	PhasePlanning:         {PhaseInitializing, PhasePlanning, PhaseCoding, PhaseTaskReviewing, PhaseCompleting},
	PhaseCoding:           {PhaseVerifying, PhaseError},
	PhaseVerifying:        {PhasePlanning, PhaseCoding, PhaseCircularDetected, PhaseError},
	PhaseCircularDetected: {PhaseCoding, PhaseError},
	PhaseTaskReviewing:    {PhaseInitializing, PhasePlanning, PhaseCompleting},
	PhaseCompleting:       {PhaseCompleted, PhaseError},
	PhaseCompleted:        {PhaseInitializing},
	PhaseError:            {PhaseInitializing},
	PhaseFailed:           {PhaseInitializing},
	PhaseStopped:          {PhaseInitializing},
}

func init() {
	for _, p := range AllPhases {
		if !p.IsTerminal() {
			allowedTransitions[p] = append(allowedTransitions[p], PhaseStopped, PhaseFailed)
		}
	}
}

// CanTransition reports whether from → to is permitted.
func CanTransition(from, to Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
