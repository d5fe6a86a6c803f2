package afe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/database"
)

type fakeTransport struct {
	initErr  error
	readErr  error
	initHits int
}

func (f *fakeTransport) Initialize() error {
	f.initHits++
	return f.initErr
}

func (f *fakeTransport) ReadVoltages(buf [][]int16) error {
	if f.readErr != nil {
		return f.readErr
	}
	for _, row := range buf {
		for i := range row {
			row[i] = 3700
		}
	}
	return nil
}

func (f *fakeTransport) ReadTemperatures(buf [][]int16) error {
	if f.readErr != nil {
		return f.readErr
	}
	for _, row := range buf {
		for i := range row {
			row[i] = 250
		}
	}
	return nil
}

func testGeometry() config.Geometry {
	return config.Geometry{NrStrings: 1, NrModulesPerString: 1, NrCellBlocksPerModule: 2, NrTempSensorsPerModule: 2}
}

func driveUntil(f *FSM, maxTicks int, done func() bool) {
	for i := 0; i < maxTicks && !done(); i++ {
		f.Trigger()
	}
}

func TestFSMReachesRunningAndLatchesFirstMeasurement(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	transport := &fakeTransport{}
	f := New(db, g, transport)

	assert.Equal(t, StateDummy, f.State())
	f.Trigger()
	assert.Equal(t, StateHasNeverRun, f.State())
	f.Trigger()
	assert.Equal(t, StateUninitialized, f.State())

	assert.Nil(t, f.Initialize())
	assert.Equal(t, StateInitialization, f.State())

	driveUntil(f, 50, func() bool { return f.State() == StateRunning })
	assert.Equal(t, StateRunning, f.State())
	assert.True(t, f.IsFirstMeasurementFinished())

	v, h, err := db.Read1(blocks.TagCellVoltage)
	assert.Nil(t, err)
	assert.True(t, h.Fresh())
	assert.Equal(t, int16(3700), v.(blocks.CellVoltage).VoltageMv[0][0])
}

func TestFSMLatchesErrorOnTransportFailure(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	transport := &fakeTransport{initErr: errors.New("chip not responding")}
	f := New(db, g, transport)

	f.Trigger() // Dummy -> HasNeverRun
	f.Trigger() // HasNeverRun -> Uninitialized
	assert.Nil(t, f.Initialize())

	driveUntil(f, 10, func() bool { return f.State() == StateError })
	assert.Equal(t, StateError, f.State())

	es, _, err := db.Read1(blocks.TagErrorState)
	assert.Nil(t, err)
	assert.True(t, es.(blocks.ErrorState).AfeError)
}

func TestRequestRecoveryReturnsToUninitialized(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	transport := &fakeTransport{initErr: errors.New("boom")}
	f := New(db, g, transport)

	f.Trigger()
	f.Trigger()
	assert.Nil(t, f.Initialize())
	driveUntil(f, 10, func() bool { return f.State() == StateError })
	assert.Equal(t, StateError, f.State())

	f.RequestRecovery()
	assert.Equal(t, StateUninitialized, f.State())
}

func TestTriggerDropsReentrantCall(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	f := New(db, g, &fakeTransport{})

	f.mu.Lock()
	f.triggerEntry = 1
	f.mu.Unlock()

	dropped := f.Trigger()
	assert.True(t, dropped)
}
