package common

import "errors"

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed module set.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool { return s[module] }

// Latch rejects nested entry while a call is in flight. The zero value is
// open.
type Latch struct {
	held bool
}

// Enter closes the latch or returns ErrReentrantCall when it is already held.
// Callers must pair a successful Enter with Exit.
func (l *Latch) Enter() error {
	if l.held {
		return ErrReentrantCall
	}
	l.held = true
	return nil
}

// Exit reopens the latch.
func (l *Latch) Exit() { l.held = false }
