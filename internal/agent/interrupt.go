package agent

// Interrupt is a soft steering message injected mid-turn: a user may send
// more guidance while the agent is still working instead of waiting for
// the turn to finish.
//
// Urgent interrupts are checked between tool executions and cause the
// engine to abandon any remaining queued tool calls for this turn (point
// C in the turn loop); non-urgent interrupts are only folded in at the
// natural pause points (A, B, D) between provider calls.
type Interrupt struct {
	Text   string
	Urgent bool
}

// interruptBox holds at most one pending interrupt per session; a second
// send before the first is drained replaces it; this is a steering signal,
// not a queue.
type interruptBox struct {
	ch chan Interrupt
}

func newInterruptBox() *interruptBox {
	return &interruptBox{ch: make(chan Interrupt, 1)}
}

// Send enqueues an interrupt, replacing anything not yet drained.
func (b *interruptBox) Send(in Interrupt) {
	for {
		select {
		case b.ch <- in:
			return
		default:
			select {
			case <-b.ch:
			default:
			}
		}
	}
}

// Drain returns the pending interrupt, if any, without blocking.
func (b *interruptBox) Drain() (Interrupt, bool) {
	select {
	case in := <-b.ch:
		return in, true
	default:
		return Interrupt{}, false
	}
}
