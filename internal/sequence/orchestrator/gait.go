package orchestrator

// gait ticks the legs in diagonal pairs starting at StartIndex. The second
// pair only moves once both legs of the first have planted; once all four
// wait at the barrier they are released together. It reports whether any
// leg is still in its cycle.
func (c *Controller) gait() bool {
	n := len(c.legs)
	at := func(off int) Leg { return c.legs[(c.state.StartIndex+off)%n] }

	first := [2]Leg{at(0), at(2)}
	second := [2]Leg{at(1), at(3)}

	for _, l := range first {
		l.Tick()
	}
	if first[0].Status().ShouldMoveNextLeg && first[1].Status().ShouldMoveNextLeg {
		for _, l := range second {
			l.Tick()
		}
	}

	barrier, busy := true, false
	for _, l := range c.legs {
		st := l.Status()
		barrier = barrier && st.WaitingForContinue
		busy = busy || st.InProgress
	}
	if barrier {
		for _, l := range c.legs {
			l.Continue()
		}
	}
	return busy
}
