package bms

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/current"
	"github.com/foxbms/foxbms-core/pkg/database"
)

type fakeFirstMeasurement struct{ done bool }

func (f *fakeFirstMeasurement) IsFirstMeasurementFinished() bool { return f.done }

type fakeContactors struct {
	closed      []bool
	prechargeOK []bool
	openAllHits int
}

func newFakeContactors(n int) *fakeContactors {
	return &fakeContactors{closed: make([]bool, n), prechargeOK: make([]bool, n)}
}

func (c *fakeContactors) Close(s int) error { c.closed[s] = true; return nil }
func (c *fakeContactors) Open(s int) error  { c.closed[s] = false; return nil }

func (c *fakeContactors) OpenAll() error {
	c.openAllHits++
	for i := range c.closed {
		c.closed[i] = false
	}
	return nil
}

func (c *fakeContactors) IsPrechargeComplete(s int) bool { return c.prechargeOK[s] }

func testGeometry() config.Geometry {
	return config.Geometry{NrStrings: 1, NrModulesPerString: 1, NrCellBlocksPerModule: 1, NrTempSensorsPerModule: 1}
}

func testTiming() config.Timing {
	return config.Timing{PrechargeTimeoutMs: 3, RestCurrentMilliamp: 100}
}

func TestStandbyStaysUntilNormalRequestedAndMeasured(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	afeStub := &fakeFirstMeasurement{done: false}
	oracle := current.New(db, testTiming(), g.NrStrings)
	contactors := newFakeContactors(g.NrStrings)
	f := New(db, afeStub, oracle, contactors, g, testTiming())

	assert.Nil(t, db.Write1(blocks.TagStateRequest, blocks.StateRequest{Requested: blocks.RequestNormal}))
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StateStandby, f.State())

	afeStub.done = true
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StatePrecharge, f.State())
}

func TestPrechargeClosesAndEntersNormal(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	afeStub := &fakeFirstMeasurement{done: true}
	oracle := current.New(db, testTiming(), g.NrStrings)
	contactors := newFakeContactors(g.NrStrings)
	f := New(db, afeStub, oracle, contactors, g, testTiming())

	assert.Nil(t, db.Write1(blocks.TagStateRequest, blocks.StateRequest{Requested: blocks.RequestNormal}))
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StatePrecharge, f.State())

	contactors.prechargeOK[0] = true
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StateNormal, f.State())
	assert.True(t, contactors.closed[0])
	assert.True(t, oracle.IsStringClosed(0))
}

func TestPrechargeTimesOutToError(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	afeStub := &fakeFirstMeasurement{done: true}
	oracle := current.New(db, testTiming(), g.NrStrings)
	contactors := newFakeContactors(g.NrStrings)
	f := New(db, afeStub, oracle, contactors, g, testTiming())

	assert.Nil(t, db.Write1(blocks.TagStateRequest, blocks.StateRequest{Requested: blocks.RequestNormal}))
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StatePrecharge, f.State())

	for i := 0; i < testTiming().PrechargeTimeoutMs+1; i++ {
		assert.Nil(t, f.Trigger())
	}
	assert.Equal(t, StateError, f.State())
}

func TestMSLViolationForcesErrorAndOpensContactors(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	afeStub := &fakeFirstMeasurement{done: true}
	oracle := current.New(db, testTiming(), g.NrStrings)
	contactors := newFakeContactors(g.NrStrings)
	f := New(db, afeStub, oracle, contactors, g, testTiming())

	// Drive Standby -> Precharge -> Normal first: an MSL violation
	// while already open in Standby does not force an error (nothing
	// to protect against); in Precharge and Normal it does.
	assert.Nil(t, db.Write1(blocks.TagStateRequest, blocks.StateRequest{Requested: blocks.RequestNormal}))
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StatePrecharge, f.State())
	contactors.prechargeOK[0] = true
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StateNormal, f.State())
	assert.True(t, oracle.IsStringClosed(0))

	msl := blocks.NewMSLFlags(g)
	msl.OverVoltage[0] = true
	assert.Nil(t, db.Write1(blocks.TagMSLFlags, msl))

	assert.Nil(t, f.Trigger())
	assert.Equal(t, StateError, f.State())
	assert.Equal(t, 1, contactors.openAllHits)
	assert.False(t, oracle.IsStringClosed(0))

	es, _, _ := db.Read1(blocks.TagErrorState)
	assert.True(t, es.(blocks.ErrorState).General)
}

func TestErrorRecoversToStandbyOnRequest(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	afeStub := &fakeFirstMeasurement{done: true}
	oracle := current.New(db, testTiming(), g.NrStrings)
	contactors := newFakeContactors(g.NrStrings)
	f := New(db, afeStub, oracle, contactors, g, testTiming())

	assert.Nil(t, db.Write1(blocks.TagStateRequest, blocks.StateRequest{Requested: blocks.RequestNormal}))
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StatePrecharge, f.State())
	contactors.prechargeOK[0] = true
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StateNormal, f.State())

	msl := blocks.NewMSLFlags(g)
	msl.OverVoltage[0] = true
	assert.Nil(t, db.Write1(blocks.TagMSLFlags, msl))
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StateError, f.State())

	assert.Nil(t, db.Write1(blocks.TagMSLFlags, blocks.NewMSLFlags(g)))
	assert.Nil(t, db.Write1(blocks.TagStateRequest, blocks.StateRequest{Requested: blocks.RequestStandby}))
	assert.Nil(t, f.Trigger())
	assert.Equal(t, StateStandby, f.State())
}
