package debug

import "sync"

// lockedHart serializes every Hart operation against the lock guarding
// the hart's execution loop, so DMI-driven pokes arriving from the
// Remote Bitbang goroutine never race a Step in progress.
type lockedHart struct {
	mu sync.Locker
	h  Hart
}

// NewLockedHart wraps h so that each operation runs under mu. Pass the
// same locker the machine's step loop holds while executing.
func NewLockedHart(h Hart, mu sync.Locker) Hart {
	return &lockedHart{mu: mu, h: h}
}

func (l *lockedHart) HaltRequest(cause uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h.HaltRequest(cause)
}

func (l *lockedHart) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h.Resume()
}

func (l *lockedHart) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.Halted()
}

func (l *lockedHart) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.Running()
}

func (l *lockedHart) HaveReset() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.HaveReset()
}

func (l *lockedHart) ClearHaveReset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h.ClearHaveReset()
}

func (l *lockedHart) SetResetRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h.SetResetRequest()
}

func (l *lockedHart) ReadGPR(n uint32) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.ReadGPR(n)
}

func (l *lockedHart) WriteGPR(n uint32, v uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h.WriteGPR(n, v)
}

func (l *lockedHart) ReadCSR(addr uint16) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.ReadCSR(addr)
}

func (l *lockedHart) WriteCSR(addr uint16, v uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.WriteCSR(addr, v)
}

func (l *lockedHart) ReadMemory(addr uint64, size int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.ReadMemory(addr, size)
}

func (l *lockedHart) WriteMemory(addr uint64, size int, v uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.WriteMemory(addr, size, v)
}
