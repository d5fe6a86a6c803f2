package current

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/database"
)

func TestClassifyCurrent(t *testing.T) {
	assert.Equal(t, AtRest, ClassifyCurrent(50, 100))
	assert.Equal(t, AtRest, ClassifyCurrent(-50, 100))
	assert.Equal(t, Charging, ClassifyCurrent(150, 100))
	assert.Equal(t, Discharging, ClassifyCurrent(-150, 100))
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "CHARGING", Charging.String())
	assert.Equal(t, "DISCHARGING", Discharging.String())
	assert.Equal(t, "AT-REST", AtRest.String())
}

func testGeometry() config.Geometry {
	return config.Geometry{NrStrings: 2, NrModulesPerString: 1, NrCellBlocksPerModule: 1, NrTempSensorsPerModule: 1}
}

func TestStringClosedBookkeeping(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	o := New(db, config.Timing{RestCurrentMilliamp: 100}, g.NrStrings)

	assert.Equal(t, 0, o.NumberOfConnectedStrings())
	assert.Nil(t, o.SetStringClosed(0, true))
	assert.True(t, o.IsStringClosed(0))
	assert.False(t, o.IsStringClosed(1))
	assert.Equal(t, 1, o.NumberOfConnectedStrings())
}

func TestSetStringClosedRejectsOutOfRange(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	o := New(db, config.Timing{RestCurrentMilliamp: 100}, g.NrStrings)

	assert.NotNil(t, o.SetStringClosed(5, true))
	assert.False(t, o.IsStringClosed(5))
}

func TestBatterySystemStateReadsPackCurrent(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	o := New(db, config.Timing{RestCurrentMilliamp: 100}, g.NrStrings)

	pv := blocks.NewPackValues(g)
	pv.PackCurrentMa = 5000
	assert.Nil(t, db.Write1(blocks.TagPackValues, pv))

	dir, err := o.BatterySystemState()
	assert.Nil(t, err)
	assert.Equal(t, Charging, dir)
}

func TestRestThresholdMilliamp(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })
	o := New(db, config.Timing{RestCurrentMilliamp: 250}, g.NrStrings)
	assert.Equal(t, int32(250), o.RestThresholdMilliamp())
}
