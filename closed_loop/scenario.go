package main

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"

	"lift-control-core/sysid"
)

// Scenario actions.
const (
	ActionEnable  = "enable"
	ActionDisable = "disable"
	ActionTarget  = "target"
	ActionVoltage = "voltage"
	ActionStop    = "stop"
	ActionCoast   = "coast"
	ActionBrake   = "brake"
	ActionSysID   = "sysid"
)

var validActions = map[string]bool{
	ActionEnable: true, ActionDisable: true, ActionTarget: true, ActionVoltage: true,
	ActionStop: true, ActionCoast: true, ActionBrake: true, ActionSysID: true,
}

// Scenario is a scripted sequence of operator inputs.
type Scenario struct {
	Meta   ScenarioMeta    `json:"meta"`
	Timing ScenarioTiming  `json:"timing"`
	Events []ScenarioEvent `json:"events"`

	next int
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// ScenarioTiming bounds the run.
type ScenarioTiming struct {
	DurationS float64 `json:"duration_s"`
}

// ScenarioEvent fires once, on the first tick at or after T.
type ScenarioEvent struct {
	T              float64 `json:"t"`
	Action         string  `json:"action"`
	DisplacementIn float64 `json:"displacement_in,omitempty"`
	Volts          float64 `json:"volts,omitempty"`
	Test           string  `json:"test,omitempty"` // e.g. quasistatic-forward
	Comment        string  `json:"comment,omitempty"`
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return nil, errors.Wrap(err, "unmarshal")
	}
	if err := scen.Validate(); err != nil {
		return nil, err
	}
	return &scen, nil
}

// Validate checks every event and sorts them by time.
func (s *Scenario) Validate() error {
	if s.Timing.DurationS <= 0 {
		return errors.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	for i, ev := range s.Events {
		if !validActions[ev.Action] {
			return errors.Errorf("event %d: unknown action %q", i, ev.Action)
		}
		if ev.T < 0 || ev.T > s.Timing.DurationS {
			return errors.Errorf("event %d: t=%.3f outside [0, %.3f]", i, ev.T, s.Timing.DurationS)
		}
		if ev.Action == ActionSysID {
			if _, err := sysid.ParseTest(ev.Test); err != nil {
				return errors.Wrapf(err, "event %d", i)
			}
		}
	}
	sort.SliceStable(s.Events, func(i, j int) bool { return s.Events[i].T < s.Events[j].T })
	s.next = 0
	return nil
}

// Duration is the scripted run length.
func (s *Scenario) Duration() time.Duration {
	return time.Duration(s.Timing.DurationS * float64(time.Second))
}

// Due returns the events that became due by elapsed, each exactly once.
func (s *Scenario) Due(elapsed time.Duration) []ScenarioEvent {
	start := s.next
	for s.next < len(s.Events) && s.Events[s.next].T <= elapsed.Seconds() {
		s.next++
	}
	return s.Events[start:s.next]
}

// CharacterizationScenario runs tests back to back, each given its full timeout plus settle time.
func CharacterizationScenario(tests []sysid.Test, cfg sysid.Config, settle time.Duration) *Scenario {
	scen := &Scenario{
		Meta: ScenarioMeta{Name: "characterization", Version: 1, Description: "sysid sweeps"},
	}
	t := 0.0
	scen.Events = append(scen.Events, ScenarioEvent{T: t, Action: ActionEnable})
	for _, test := range tests {
		t += settle.Seconds()
		scen.Events = append(scen.Events, ScenarioEvent{T: t, Action: ActionSysID, Test: test.String()})
		t += cfg.Timeout.Seconds()
	}
	t += settle.Seconds()
	scen.Events = append(scen.Events, ScenarioEvent{T: t, Action: ActionDisable})
	scen.Timing.DurationS = t
	return scen
}
