package workflows

// NextReviewRound applies the incremental rule: entering revisions_requested
// closes a round.
func NextReviewRound(current int, target Status) int {
	if target == StatusRevisionsRequested {
		return current + 1
	}
	return current
}

// CountRevisionRounds derives the review round from a status history.
func CountRevisionRounds(history []Status) int {
	n := 0
	for _, s := range history {
		if s == StatusRevisionsRequested {
			n++
		}
	}
	return n
}

// RoundCheck compares the stored counter with the history-derived one.
type RoundCheck struct {
	Stored  int `json:"stored_round"`
	Derived int `json:"derived_round"`
}

func (c RoundCheck) Consistent() bool {
	return c.Stored == c.Derived
}

// CheckRounds builds a RoundCheck for a stored counter and its history.
func CheckRounds(stored int, history []Status) RoundCheck {
	return RoundCheck{Stored: stored, Derived: CountRevisionRounds(history)}
}
