// Package current implements component D: the current-direction and
// string-closed oracle used by the BMS FSM and by CAN encoders
// (spec.md §4.D).
package current

import (
	"fmt"
	"sync"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/database"
	"github.com/foxbms/foxbms-core/pkg/errs"
)

// Direction classifies the sign of a current reading.
type Direction uint8

const (
	AtRest Direction = iota
	Charging
	Discharging
)

func (d Direction) String() string {
	switch d {
	case Charging:
		return "CHARGING"
	case Discharging:
		return "DISCHARGING"
	default:
		return "AT-REST"
	}
}

// ClassifyCurrent applies the sign/hysteresis rule: |current| below
// restThresholdMa is AtRest, positive is Charging, negative is
// Discharging (spec.md §4.D).
func ClassifyCurrent(currentMa int32, restThresholdMa int32) Direction {
	if currentMa > restThresholdMa {
		return Charging
	}
	if currentMa < -restThresholdMa {
		return Discharging
	}
	return AtRest
}

// Oracle tracks which strings are currently closed and exposes the
// current-direction classification built on top of PackValues.
type Oracle struct {
	db              *database.Database
	restThresholdMa int32

	mu     sync.Mutex
	closed []bool
}

// New builds an Oracle with every string initially open.
func New(db *database.Database, timing config.Timing, nrStrings int) *Oracle {
	return &Oracle{
		db:              db,
		restThresholdMa: timing.RestCurrentMilliamp,
		closed:          make([]bool, nrStrings),
	}
}

// SetStringClosed records the contactor FSM's verdict for string s.
func (o *Oracle) SetStringClosed(s int, closed bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s < 0 || s >= len(o.closed) {
		return errs.New(errs.KindProgrammer, "current.SetStringClosed", fmt.Errorf("string index %d out of range", s))
	}
	o.closed[s] = closed
	return nil
}

// IsStringClosed reports whether string s is currently in circuit.
func (o *Oracle) IsStringClosed(s int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s < 0 || s >= len(o.closed) {
		return false
	}
	return o.closed[s]
}

// NumberOfConnectedStrings counts strings currently closed.
func (o *Oracle) NumberOfConnectedStrings() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.closed {
		if c {
			n++
		}
	}
	return n
}

// CurrentFlowDirection classifies a single raw current reading using
// the oracle's configured rest threshold.
func (o *Oracle) CurrentFlowDirection(currentMa int32) Direction {
	return ClassifyCurrent(currentMa, o.restThresholdMa)
}

// RestThresholdMilliamp returns the hysteresis band used by
// CurrentFlowDirection, for callers that need to classify a reading
// this oracle did not read itself (e.g. a per-string current).
func (o *Oracle) RestThresholdMilliamp() int32 {
	return o.restThresholdMa
}

// BatterySystemState classifies the pack as a whole from the latest
// PackValues.pack_current_mA — the pack-level aggregation of string
// flows rather than a per-string vote.
func (o *Oracle) BatterySystemState() (Direction, error) {
	v, _, err := o.db.Read1(blocks.TagPackValues)
	if err != nil {
		return AtRest, err
	}
	pv := v.(blocks.PackValues)
	return o.CurrentFlowDirection(pv.PackCurrentMa), nil
}
