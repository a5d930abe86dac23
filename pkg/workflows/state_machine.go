package workflows

// approvalRule restricts a transition to items with or without mandatory
// client sign-off.
type approvalRule int

const (
	anyApproval approvalRule = iota
	approvalOnly
	noApprovalOnly
)

func (r approvalRule) matches(approvalRequired bool) bool {
	switch r {
	case approvalOnly:
		return approvalRequired
	case noApprovalOnly:
		return !approvalRequired
	default:
		return true
	}
}

// Transition is one legal move out of a status.
type Transition struct {
	Action       ActionName `json:"action"`
	Target       Status     `json:"target_status"`
	Label        string     `json:"label"`
	RequiresNote bool       `json:"requires_note"`
	Variant      Variant    `json:"variant"`
}

type edge struct {
	from     Status
	role     Role
	approval approvalRule
	Transition
}

// edges is the complete content lifecycle policy. Order within a (from, role)
// group is the order actions are presented in.
var edges = []edge{
	{StatusDraft, RoleProducer, anyApproval,
		Transition{ActionSubmitForReview, StatusSentForReview, "Submit for Review", false, VariantPrimary}},

	{StatusSentForReview, RoleClient, anyApproval,
		Transition{ActionBeginReview, StatusClientReviewing, "Start Review", false, VariantNeutral}},
	{StatusSentForReview, RoleProducer, noApprovalOnly,
		Transition{ActionPublish, StatusPublished, "Publish", false, VariantPrimary}},

	{StatusClientReviewing, RoleClient, approvalOnly,
		Transition{ActionApprove, StatusApproved, "Approve", false, VariantPrimary}},
	{StatusClientReviewing, RoleClient, noApprovalOnly,
		Transition{ActionPublish, StatusPublished, "Publish", false, VariantPrimary}},
	{StatusClientReviewing, RoleClient, anyApproval,
		Transition{ActionRequestRevisions, StatusRevisionsRequested, "Request Revisions", true, VariantWarning}},

	{StatusRevisionsRequested, RoleProducer, anyApproval,
		Transition{ActionResubmit, StatusSentForReview, "Resubmit for Review", false, VariantPrimary}},

	{StatusApproved, RoleProducer, approvalOnly,
		Transition{ActionPublish, StatusPublished, "Publish", false, VariantPrimary}},
}

// StateMachine answers policy questions about the content lifecycle.
type StateMachine struct {
	edges []edge
}

// NewStateMachine creates a state machine over the content lifecycle table
func NewStateMachine() *StateMachine {
	return &StateMachine{edges: edges}
}

var defaultMachine = NewStateMachine()

// AllowedTransitions returns the legal moves for an actor of the given role.
// The result is never nil.
func (sm *StateMachine) AllowedTransitions(from Status, role Role, approvalRequired bool) []Transition {
	out := []Transition{}
	if from.IsTerminal() {
		return out
	}
	for _, e := range sm.edges {
		if e.from == from && e.role == role && e.approval.matches(approvalRequired) {
			out = append(out, e.Transition)
		}
	}
	return out
}

// Lookup finds the transition into target, if one is legal.
func (sm *StateMachine) Lookup(from Status, role Role, approvalRequired bool, target Status) (Transition, bool) {
	for _, t := range sm.AllowedTransitions(from, role, approvalRequired) {
		if t.Target == target {
			return t, true
		}
	}
	return Transition{}, false
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from Status, role Role, approvalRequired bool, to Status) bool {
	_, ok := sm.Lookup(from, role, approvalRequired, to)
	return ok
}

// AllowedTransitions consults the default lifecycle table.
func AllowedTransitions(from Status, role Role, approvalRequired bool) []Transition {
	return defaultMachine.AllowedTransitions(from, role, approvalRequired)
}
