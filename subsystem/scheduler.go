package subsystem

import (
	"time"

	"lift-control-core/utils"
)

// Scheduler drives registered mechanisms and their commands from a single tick. It is not safe for
// concurrent use: the runner loop owns it.
type Scheduler struct {
	log        *utils.Logger
	mechanisms []Mechanism
	pending    []Command
	running    map[Mechanism]Command
	enabled    bool
}

// NewScheduler starts disabled.
func NewScheduler(log *utils.Logger) *Scheduler {
	return &Scheduler{log: log, running: map[Mechanism]Command{}}
}

// Register adds a mechanism to the periodic pass. Registration order is tick order.
func (s *Scheduler) Register(m Mechanism) {
	s.mechanisms = append(s.mechanisms, m)
}

// Schedule queues cmd. It starts on the next tick and interrupts whatever holds the same mechanism.
// Commands on a mechanism that was never registered are started but never executed.
func (s *Scheduler) Schedule(cmd Command) {
	s.pending = append(s.pending, cmd)
}

// SetEnabled switches output permission. Disabling interrupts every command that cannot run disabled.
func (s *Scheduler) SetEnabled(enabled bool) {
	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	s.log.Info("outputs %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
	if enabled {
		return
	}
	for m, cmd := range s.running {
		if !cmd.RunsWhenDisabled() {
			s.interrupt(m, cmd)
		}
	}
}

func (s *Scheduler) Enabled() bool { return s.enabled }

// Running returns the command holding m, if any.
func (s *Scheduler) Running(m Mechanism) (Command, bool) {
	cmd, ok := s.running[m]
	return cmd, ok
}

func (s *Scheduler) interrupt(m Mechanism, cmd Command) {
	delete(s.running, m)
	cmd.finish(true)
	s.log.Debug("%s interrupted", cmd.Name())
}

// Tick runs every mechanism's Periodic, then starts pending commands, then executes running ones.
func (s *Scheduler) Tick(now time.Time) {
	for _, m := range s.mechanisms {
		m.Periodic()
	}

	pending := s.pending
	s.pending = nil
	for _, cmd := range pending {
		if !s.enabled && !cmd.RunsWhenDisabled() {
			s.log.Debug("%s skipped while disabled", cmd.Name())
			continue
		}
		if prev, ok := s.running[cmd.Requirement()]; ok {
			s.interrupt(cmd.Requirement(), prev)
		}
		s.running[cmd.Requirement()] = cmd
		s.log.Debug("%s started", cmd.Name())
	}

	// iterate in registration order so mechanisms tick deterministically
	for _, m := range s.mechanisms {
		cmd, ok := s.running[m]
		if !ok {
			continue
		}
		if cmd.execute(now) {
			delete(s.running, m)
			cmd.finish(false)
			s.log.Debug("%s finished", cmd.Name())
		}
	}
}
