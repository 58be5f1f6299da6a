// Package progress defines the callback interface a session uses to
// report phase transitions and byte counters to its caller, so the
// CLI front-end can render a progress bar without the protocol layer
// knowing anything about terminals.
package progress

// Reporter receives progress notifications from a programming
// session. Implementations must be safe to call synchronously from
// the session's single goroutine; no concurrency guarantees are made
// or required.
type Reporter interface {
	// OnPhase is called once when the session enters a new named
	// phase (e.g. "erase", "write-code", "write-options").
	OnPhase(phase string)
	// OnBytes is called as a block transfer within the current phase
	// progresses, with the bytes sent so far and the total expected.
	OnBytes(sent, total int)
}

// Discard is a Reporter that does nothing, used when the caller has
// no progress UI to drive.
type Discard struct{}

func (Discard) OnPhase(string)    {}
func (Discard) OnBytes(int, int)  {}
