package reviewable

// Verb is the canonical transition an action performs. Many catalog actions
// may share a verb (eg, "agree_and_keep" and "approve_post" both approve).
type Verb string

const (
	VerbApprove Verb = "approve"
	VerbReject  Verb = "reject"
	VerbIgnore  Verb = "ignore"
	VerbDelete  Verb = "delete"
	VerbRevert  Verb = "revert"

	// recorded in history for payload edits; never in the transition table
	verbEdit Verb = "edit"
)

// transitions is keyed by (current status, verb). Anything absent is an
// invalid transition. All terminal statuses revert to pending, and nothing
// else leaves a terminal status.
var transitions = map[Status]map[Verb]Status{
	StatusPending: {
		VerbApprove: StatusApproved,
		VerbReject:  StatusRejected,
		VerbIgnore:  StatusIgnored,
		VerbDelete:  StatusDeleted,
	},
	StatusApproved: {VerbRevert: StatusPending},
	StatusRejected: {VerbRevert: StatusPending},
	StatusIgnored:  {VerbRevert: StatusPending},
	StatusDeleted:  {VerbRevert: StatusPending},
}

func knownVerb(v Verb) bool {
	switch v {
	case VerbApprove, VerbReject, VerbIgnore, VerbDelete, VerbRevert:
		return true
	}
	return false
}

// NextStatus returns the status reached by applying verb in status from.
func NextStatus(from Status, verb Verb) (Status, error) {
	if next, ok := transitions[from][verb]; ok {
		return next, nil
	}
	return "", &TransitionError{From: from, Action: string(verb)}
}

// CanTransition is NextStatus without the error.
func CanTransition(from Status, verb Verb) bool {
	_, ok := transitions[from][verb]
	return ok
}
