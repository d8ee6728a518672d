package ensemble

// unexported helpers relating to channels

var alwaysClosed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func isClosed(c <-chan struct{}) bool {
	if c == nil {
		return false
	}

	select {
	case <-c:
		return true
	default:
		return false
	}
}

// latch is a one-shot, lazily allocated "it happened" channel. It is not itself synchronized;
// callers guard it with the mutex that guards the state it reports on.
type latch struct {
	ch    chan struct{}
	fired bool
}

// wait returns a channel that is closed once fire has been called.
func (l *latch) wait() <-chan struct{} {
	if l.fired {
		return alwaysClosed
	}
	if l.ch == nil {
		l.ch = make(chan struct{})
	}
	return l.ch
}

// fire closes the channel returned by wait. Only the first call has an effect.
func (l *latch) fire() {
	if l.fired {
		return
	}
	l.fired = true
	if l.ch != nil {
		close(l.ch)
		l.ch = nil
	}
}

// rearm resets a fired latch so that later calls to wait block again. Channels handed out before
// the reset stay closed.
func (l *latch) rearm() {
	l.fired = false
}
