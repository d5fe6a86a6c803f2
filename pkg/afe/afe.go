// Package afe implements component B: the acquisition state machine
// that sequences AFE hardware cycles, declares the first complete
// measurement, and publishes cell voltage and temperature blocks into
// the database (spec.md §4.B).
package afe

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/database"
)

// State is one of the FSM's top-level states.
type State uint8

const (
	StateDummy State = iota
	StateHasNeverRun
	StateUninitialized
	StateInitialization
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateDummy:
		return "DUMMY"
	case StateHasNeverRun:
		return "HAS-NEVER-RUN"
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialization:
		return "INITIALIZATION"
	case StateRunning:
		return "RUNNING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type initSubstate uint8

const (
	initEntry initSubstate = iota
	initFinishFirstMeasurement
	initFirstMeasurementFinished
	initExit
)

type runSubstate uint8

const (
	runSaveVoltage runSubstate = iota
	runSaveTemperature
)

// settleTicks is how many extra ticks the FSM waits after chip
// initialization before taking the first measurement, modelling the
// settling time real AFE chains need. Reads are not followed by a wait.
const settleTicks = 2

// Transport is the analog-front-end collaborator: chip-level
// initialization and per-channel reads. It is out of scope for this
// module and is expected to block its own caller until done (spec.md
// §6, "blocking on its own task").
type Transport interface {
	Initialize() error
	ReadVoltages(buf [][]int16) error
	ReadTemperatures(buf [][]int16) error
}

// FSM is the AFE acquisition state machine. It is driven by a single
// Trigger call on a fixed period, typically 1 ms.
type FSM struct {
	mu sync.Mutex

	db        *database.Database
	geometry  config.Geometry
	transport Transport
	logger    *logrus.Entry

	state        State
	initSub      initSubstate
	runSub       runSubstate
	timer        int
	triggerEntry int

	firstMeasurementFinished bool

	voltageScratch blocks.CellVoltage
	tempScratch    blocks.CellTemperature
}

// New builds an FSM in StateDummy. Voltage and temperature scratch
// buffers are sized once from geometry and reused for every read; each
// publish hands the database a freshly allocated copy of them.
func New(db *database.Database, g config.Geometry, transport Transport) *FSM {
	return &FSM{
		db:             db,
		geometry:       g,
		transport:      transport,
		logger:         logrus.WithField("component", "afe"),
		state:          StateDummy,
		voltageScratch: blocks.NewCellVoltage(g),
		tempScratch:    blocks.NewCellTemperature(g),
	}
}

// State returns the FSM's current top-level state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsFirstMeasurementFinished reports whether the latch has been set.
// Once true it is never cleared.
func (f *FSM) IsFirstMeasurementFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firstMeasurementFinished
}

// Initialize requests the Uninitialized -> Initialization transition.
// It has no effect from any other state.
func (f *FSM) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateUninitialized {
		return nil
	}
	f.state = StateInitialization
	f.initSub = initEntry
	f.timer = 0
	return nil
}

// RequestRecovery requests the Error -> Uninitialized transition. It
// has no effect from any other state.
func (f *FSM) RequestRecovery() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateError {
		return
	}
	f.state = StateUninitialized
}

// Trigger is the fixed-period tick entrypoint. It returns true when
// the tick was dropped: either because a concurrent Trigger call is
// already in progress, or because the substate timer has not yet
// expired.
func (f *FSM) Trigger() bool {
	f.mu.Lock()
	if f.triggerEntry > 0 {
		f.mu.Unlock()
		return true
	}
	f.triggerEntry++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.triggerEntry--
		f.mu.Unlock()
	}()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timer > 0 {
		f.timer--
		return true
	}
	f.advanceLocked()
	return false
}

func (f *FSM) advanceLocked() {
	switch f.state {
	case StateDummy:
		f.state = StateHasNeverRun
	case StateHasNeverRun:
		f.state = StateUninitialized
	case StateUninitialized:
		// Waits for an external Initialize() call.
	case StateInitialization:
		f.stepInitialization()
	case StateRunning:
		f.stepRunning()
	case StateError:
		// Waits for an external RequestRecovery() call.
	}
}

func (f *FSM) stepInitialization() {
	switch f.initSub {
	case initEntry:
		if err := f.transport.Initialize(); err != nil {
			f.latchErrorLocked(err)
			return
		}
		f.initSub = initFinishFirstMeasurement
		f.timer = settleTicks
	case initFinishFirstMeasurement:
		if err := f.transport.ReadVoltages(f.voltageScratch.VoltageMv); err != nil {
			f.latchErrorLocked(err)
			return
		}
		if err := f.transport.ReadTemperatures(f.tempScratch.TemperatureDdegC); err != nil {
			f.latchErrorLocked(err)
			return
		}
		f.initSub = initFirstMeasurementFinished
	case initFirstMeasurementFinished:
		f.publishMeasurementLocked()
		f.firstMeasurementFinished = true
		f.initSub = initExit
	case initExit:
		f.state = StateRunning
		f.runSub = runSaveVoltage
	}
}

func (f *FSM) stepRunning() {
	switch f.runSub {
	case runSaveVoltage:
		if err := f.transport.ReadVoltages(f.voltageScratch.VoltageMv); err != nil {
			f.latchErrorLocked(err)
			return
		}
		f.runSub = runSaveTemperature
	case runSaveTemperature:
		if err := f.transport.ReadTemperatures(f.tempScratch.TemperatureDdegC); err != nil {
			f.latchErrorLocked(err)
			return
		}
		f.publishMeasurementLocked()
		f.runSub = runSaveVoltage
	}
}

// publishMeasurementLocked writes the voltage and temperature blocks
// in one Write2 call. Each of the two writes is atomic on its own;
// readers get no cross-block snapshot of the pair.
func (f *FSM) publishMeasurementLocked() {
	err := f.db.Write2(
		database.Entry{Tag: blocks.TagCellVoltage, Value: f.voltageScratch.Clone()},
		database.Entry{Tag: blocks.TagCellTemperature, Value: f.tempScratch.Clone()},
	)
	if err != nil {
		f.logger.WithError(err).Error("failed to publish measurement blocks")
	}
}

func (f *FSM) latchErrorLocked(cause error) {
	f.logger.WithError(cause).Error("AFE transport reported an error")
	f.state = StateError
	errVal, _, err := f.db.Read1(blocks.TagErrorState)
	errState, _ := errVal.(blocks.ErrorState)
	if err != nil {
		errState = blocks.ErrorState{}
	}
	errState.AfeError = true
	if writeErr := f.db.Write1(blocks.TagErrorState, errState); writeErr != nil {
		f.logger.WithError(writeErr).Error("failed to publish error state")
	}
}
