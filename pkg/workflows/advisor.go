package workflows

// Action is a user-facing button description.
type Action struct {
	Label        string     `json:"label"`
	Action       ActionName `json:"action"`
	TargetStatus Status     `json:"target_status"`
	RequiresNote bool       `json:"requires_note"`
	Variant      Variant    `json:"variant"`
}

// NextActions lists what an actor can do next, affirmative actions first and
// the revision request last. Unknown or terminal combinations yield an empty
// list rather than an error.
func (sm *StateMachine) NextActions(status Status, role Role, approvalRequired bool) []Action {
	actions := []Action{}
	if !status.Valid() || !role.Valid() {
		return actions
	}

	var deferred []Action
	for _, t := range sm.AllowedTransitions(status, role, approvalRequired) {
		a := Action{
			Label:        t.Label,
			Action:       t.Action,
			TargetStatus: t.Target,
			RequiresNote: t.RequiresNote,
			Variant:      t.Variant,
		}
		if a.Variant == VariantWarning {
			deferred = append(deferred, a)
			continue
		}
		actions = append(actions, a)
	}
	return append(actions, deferred...)
}

// NextActions consults the default lifecycle table.
func NextActions(status Status, role Role, approvalRequired bool) []Action {
	return defaultMachine.NextActions(status, role, approvalRequired)
}
