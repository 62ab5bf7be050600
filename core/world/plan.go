package world

// buildPlan derives the actions for an envelope against the current registry.
// It does not mutate any state; apply does.
func (s *Synchronizer) buildPlan(env Envelope) *Plan {
	plan := &Plan{Reset: env.Kind == EnvelopeReset}

	if plan.Reset {
		// Every live piece is told it is gone before the new world is announced.
		for _, id := range s.Registered() {
			plan.Actions = append(plan.Actions, Action{Type: ActionDeletePiece, ID: id})
			plan.Summary.Deleted++
		}
		for _, entry := range env.Pieces {
			plan.Observe = append(plan.Observe, entry.ID)
			if entry.Record == nil {
				plan.Summary.Ignored++
				continue
			}
			plan.Actions = append(plan.Actions, Action{Type: ActionNewPiece, ID: entry.ID, Record: entry.Record})
			plan.Summary.New++
		}
		return plan
	}

	for _, entry := range env.Pieces {
		_, registered := s.handlers[entry.ID]

		switch {
		case entry.Record != nil && !registered:
			plan.Actions = append(plan.Actions, Action{Type: ActionNewPiece, ID: entry.ID, Record: entry.Record})
			plan.Summary.New++
		case registered && entry.Record == nil:
			plan.Actions = append(plan.Actions, Action{Type: ActionDeletePiece, ID: entry.ID})
			plan.Summary.Deleted++
		case registered:
			plan.Actions = append(plan.Actions, Action{Type: ActionChangePiece, ID: entry.ID, Record: entry.Record})
			plan.Summary.Changed++
		default:
			// Deleting a piece we never saw.
			plan.Summary.Ignored++
		}
	}
	return plan
}
