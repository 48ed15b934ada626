// Package subsystem holds what every mechanism shares: a schedulable identity, composable capabilities,
// one-shot and long-running commands, and the tick scheduler that runs them.
package subsystem

// Mechanism is a schedulable actuated unit. The unexported method is satisfied only by embedding Base,
// so every command constructor taking a Mechanism is restricted to registered mechanisms at compile time.
type Mechanism interface {
	Name() string
	// Periodic runs once per tick, before any command, and must not block.
	Periodic()

	mechanismBase() *Base
}

// Base is embedded by every mechanism controller.
type Base struct {
	name string
}

// NewBase names a mechanism. The name doubles as its telemetry namespace.
func NewBase(name string) Base {
	return Base{name: name}
}

func (b *Base) Name() string { return b.name }

func (b *Base) mechanismBase() *Base { return b }
