// Package bms implements component E: the contactor/pack state
// machine (spec.md §4.E). The component is specified as a summary;
// this implementation mirrors the state table given there and keeps
// the same shape as the acquisition FSM in pkg/afe for consistency.
package bms

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/current"
	"github.com/foxbms/foxbms-core/pkg/database"
)

// State is one of the contactor FSM's states.
type State uint8

const (
	StateStandby State = iota
	StatePrecharge
	StateNormal
	StateError
)

func (s State) String() string {
	switch s {
	case StateStandby:
		return "STANDBY"
	case StatePrecharge:
		return "PRECHARGE"
	case StateNormal:
		return "NORMAL"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FirstMeasurementSource reports whether the acquisition FSM has
// published its first complete measurement. pkg/afe.FSM satisfies it.
type FirstMeasurementSource interface {
	IsFirstMeasurementFinished() bool
}

// Contactors is the out-of-scope contactor-driver collaborator: one
// main contactor per string, closed only after its precharge path has
// settled.
type Contactors interface {
	Close(stringIdx int) error
	Open(stringIdx int) error
	OpenAll() error
	IsPrechargeComplete(stringIdx int) bool
}

// FSM is the contactor/pack state machine.
type FSM struct {
	mu sync.Mutex

	db         *database.Database
	afe        FirstMeasurementSource
	oracle     *current.Oracle
	contactors Contactors
	geometry   config.Geometry
	timing     config.Timing
	logger     *logrus.Entry

	state              State
	prechargeTimerTick int
	stringClosed       []bool
}

// New builds an FSM in StateStandby.
func New(db *database.Database, afe FirstMeasurementSource, oracle *current.Oracle, contactors Contactors, g config.Geometry, t config.Timing) *FSM {
	return &FSM{
		db:           db,
		afe:          afe,
		oracle:       oracle,
		contactors:   contactors,
		geometry:     g,
		timing:       t,
		logger:       logrus.WithField("component", "bms"),
		state:        StateStandby,
		stringClosed: make([]bool, g.NrStrings),
	}
}

// State returns the FSM's current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FSM) mslViolated() (bool, error) {
	v, _, err := f.db.Read1(blocks.TagMSLFlags)
	if err != nil {
		return false, err
	}
	return v.(blocks.MSLFlags).Any(), nil
}

func (f *FSM) request() (blocks.ContactorRequest, error) {
	v, _, err := f.db.Read1(blocks.TagStateRequest)
	if err != nil {
		return blocks.RequestNone, err
	}
	return v.(blocks.StateRequest).Requested, nil
}

// Trigger is the fixed-period tick entrypoint advancing the FSM by
// one step.
func (f *FSM) Trigger() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	mslViolated, err := f.mslViolated()
	if err != nil {
		return err
	}
	if mslViolated && f.state != StateError && f.state != StateStandby {
		f.enterErrorLocked()
		return nil
	}

	req, err := f.request()
	if err != nil {
		return err
	}

	switch f.state {
	case StateStandby:
		f.stepStandbyLocked(req, mslViolated)
	case StatePrecharge:
		f.stepPrechargeLocked()
	case StateNormal:
		f.stepNormalLocked(req)
	case StateError:
		f.stepErrorLocked(req)
	}
	return nil
}

func (f *FSM) stepStandbyLocked(req blocks.ContactorRequest, mslViolated bool) {
	if req != blocks.RequestNormal || mslViolated || !f.afe.IsFirstMeasurementFinished() {
		return
	}
	f.state = StatePrecharge
	f.prechargeTimerTick = f.timing.PrechargeTimeoutMs
	for i := range f.stringClosed {
		f.stringClosed[i] = false
	}
}

func (f *FSM) stepPrechargeLocked() {
	anyClosed := false
	for s := range f.stringClosed {
		if f.stringClosed[s] {
			anyClosed = true
			continue
		}
		if f.contactors.IsPrechargeComplete(s) {
			if err := f.contactors.Close(s); err != nil {
				f.logger.WithError(err).WithField("string", s).Error("failed to close main contactor")
				continue
			}
			if err := f.oracle.SetStringClosed(s, true); err != nil {
				f.logger.WithError(err).Error("failed to record string as closed")
			}
			f.stringClosed[s] = true
			anyClosed = true
		}
	}
	if anyClosed {
		f.state = StateNormal
		return
	}
	f.prechargeTimerTick--
	if f.prechargeTimerTick <= 0 {
		f.logger.Error("precharge timed out with no string closed")
		f.enterErrorLocked()
	}
}

func (f *FSM) stepNormalLocked(req blocks.ContactorRequest) {
	if req == blocks.RequestStandby || req == blocks.RequestOpen {
		f.openAllLocked()
		f.state = StateStandby
	}
}

func (f *FSM) stepErrorLocked(req blocks.ContactorRequest) {
	if req == blocks.RequestStandby {
		f.state = StateStandby
	}
}

func (f *FSM) enterErrorLocked() {
	f.openAllLocked()
	f.state = StateError
	errVal, _, err := f.db.Read1(blocks.TagErrorState)
	errState, _ := errVal.(blocks.ErrorState)
	if err != nil {
		errState = blocks.ErrorState{}
	}
	errState.General = true
	if writeErr := f.db.Write1(blocks.TagErrorState, errState); writeErr != nil {
		f.logger.WithError(writeErr).Error("failed to publish error state")
	}
}

func (f *FSM) openAllLocked() {
	if err := f.contactors.OpenAll(); err != nil {
		f.logger.WithError(err).Error("failed to open all contactors")
	}
	for i := range f.stringClosed {
		f.stringClosed[i] = false
		if err := f.oracle.SetStringClosed(i, false); err != nil {
			f.logger.WithError(err).Error("failed to record string as open")
		}
	}
}
