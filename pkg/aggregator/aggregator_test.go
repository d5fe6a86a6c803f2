package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/database"
)

func testGeometry() config.Geometry {
	return config.Geometry{
		NrStrings:              1,
		NrModulesPerString:     1,
		NrCellBlocksPerModule:  4,
		NrTempSensorsPerModule: 2,
	}
}

func TestRunComputesMinMax(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })

	cv := blocks.NewCellVoltage(g)
	cv.VoltageMv[0] = []int16{3700, 3650, 3800, 3600}
	assert.Nil(t, db.Write1(blocks.TagCellVoltage, cv))

	ct := blocks.NewCellTemperature(g)
	ct.TemperatureDdegC[0] = []int16{250, 300}
	assert.Nil(t, db.Write1(blocks.TagCellTemperature, ct))

	a := New(db, g)
	assert.Nil(t, a.Run())

	mm, _, err := db.Read1(blocks.TagMinMax)
	assert.Nil(t, err)
	out := mm.(blocks.MinMax)
	assert.Equal(t, int16(3600), out.MinCellMv[0])
	assert.Equal(t, int16(3800), out.MaxCellMv[0])
	assert.Equal(t, int16(250), out.MinTempDdegC[0])
	assert.Equal(t, int16(300), out.MaxTempDdegC[0])
}

func TestRunSkipsInvalidCells(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })

	cv := blocks.NewCellVoltage(g)
	cv.VoltageMv[0] = []int16{3700, 3650, 3800, 3600}
	cv.Invalid[0][0] = 1 << 3 // cell 3 (lowest voltage) invalid
	assert.Nil(t, db.Write1(blocks.TagCellVoltage, cv))
	assert.Nil(t, db.Write1(blocks.TagCellTemperature, blocks.NewCellTemperature(g)))

	a := New(db, g)
	assert.Nil(t, a.Run())

	mm, _, _ := db.Read1(blocks.TagMinMax)
	out := mm.(blocks.MinMax)
	assert.Equal(t, int16(3650), out.MinCellMv[0])
	assert.Equal(t, int16(3800), out.MaxCellMv[0])
}

func TestRunKeepsSentinelWhenAllInvalid(t *testing.T) {
	g := testGeometry()
	db := database.New(g, func() int64 { return 1 })

	cv := blocks.NewCellVoltage(g)
	cv.VoltageMv[0] = []int16{1, 2, 3, 4}
	cv.Invalid[0][0] = 0b1111
	assert.Nil(t, db.Write1(blocks.TagCellVoltage, cv))
	assert.Nil(t, db.Write1(blocks.TagCellTemperature, blocks.NewCellTemperature(g)))

	a := New(db, g)
	assert.Nil(t, a.Run())

	mm, _, _ := db.Read1(blocks.TagMinMax)
	out := mm.(blocks.MinMax)
	assert.Equal(t, blocks.SentinelMinCellMv, out.MinCellMv[0])
	assert.Equal(t, blocks.SentinelMaxCellMv, out.MaxCellMv[0])
}
