// Package intake implements the patient-intake dialogue state machine:
// identity verification followed by four collection steps, each bound to
// exactly one tool schema.
package intake

// State identifies the current intake step.
type State int

const (
	// StateAwaitingIdentity waits for a verify_identity call matching the
	// stored reference date.
	StateAwaitingIdentity State = iota
	// StateCollectingPrescriptions collects current medications and dosages.
	StateCollectingPrescriptions
	// StateCollectingAllergies collects allergy information.
	StateCollectingAllergies
	// StateCollectingConditions collects existing medical conditions.
	StateCollectingConditions
	// StateCollectingVisitReasons collects the reason for the visit.
	StateCollectingVisitReasons
	// StateComplete means the intake is finished; no tool is installed.
	StateComplete
)

// String returns a human-readable representation of the intake state.
func (s State) String() string {
	switch s {
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateCollectingPrescriptions:
		return "collecting_prescriptions"
	case StateCollectingAllergies:
		return "collecting_allergies"
	case StateCollectingConditions:
		return "collecting_conditions"
	case StateCollectingVisitReasons:
		return "collecting_visit_reasons"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}
