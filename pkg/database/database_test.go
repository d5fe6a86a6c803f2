package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
)

func testGeometry() config.Geometry {
	return config.Geometry{
		NrStrings:              1,
		NrModulesPerString:     2,
		NrCellBlocksPerModule:  3,
		NrTempSensorsPerModule: 4,
	}
}

func TestReadUnwrittenBlockIsNotFresh(t *testing.T) {
	db := New(testGeometry(), func() int64 { return 0 })
	_, h, err := db.Read1(blocks.TagPackValues)
	assert.Nil(t, err)
	assert.False(t, h.Fresh())
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	tick := int64(0)
	db := New(testGeometry(), func() int64 { tick++; return tick })

	pv := blocks.NewPackValues(testGeometry())
	pv.PackCurrentMa = 1500
	assert.Nil(t, db.Write1(blocks.TagPackValues, pv))

	v, h, err := db.Read1(blocks.TagPackValues)
	assert.Nil(t, err)
	assert.True(t, h.Fresh())
	assert.Equal(t, int32(1500), v.(blocks.PackValues).PackCurrentMa)
}

func TestReadCopiesOutStorage(t *testing.T) {
	db := New(testGeometry(), func() int64 { return 1 })
	cv := blocks.NewCellVoltage(testGeometry())
	cv.VoltageMv[0][0] = 3700
	assert.Nil(t, db.Write1(blocks.TagCellVoltage, cv))

	v, _, err := db.Read1(blocks.TagCellVoltage)
	assert.Nil(t, err)
	got := v.(blocks.CellVoltage)
	got.VoltageMv[0][0] = 1

	v2, _, _ := db.Read1(blocks.TagCellVoltage)
	assert.Equal(t, int16(3700), v2.(blocks.CellVoltage).VoltageMv[0][0])
}

func TestHeaderTracksPreviousTimestamp(t *testing.T) {
	tick := int64(0)
	db := New(testGeometry(), func() int64 { tick++; return tick })

	assert.Nil(t, db.Write1(blocks.TagSOF, blocks.SOF{}))
	_, h1, _ := db.Read1(blocks.TagSOF)
	assert.Nil(t, db.Write1(blocks.TagSOF, blocks.SOF{}))
	_, h2, _ := db.Read1(blocks.TagSOF)

	assert.Equal(t, h1.TimestampMs, h2.PreviousTimestampMs)
}

func TestGetSetTypedAccessors(t *testing.T) {
	db := New(testGeometry(), func() int64 { return 1 })
	sof := blocks.SOF{RecommendedContinuousPackChargeCurrentMa: 42}
	assert.Nil(t, Set(db, blocks.TagSOF, sof))

	got, _, err := Get[blocks.SOF](db, blocks.TagSOF)
	assert.Nil(t, err)
	assert.Equal(t, int32(42), got.RecommendedContinuousPackChargeCurrentMa)
}

func TestGetRejectsTypeMismatch(t *testing.T) {
	db := New(testGeometry(), func() int64 { return 1 })
	_, _, err := Get[blocks.PackValues](db, blocks.TagSOF)
	assert.NotNil(t, err)
}

func TestWrite2IsIndependentlyAtomic(t *testing.T) {
	db := New(testGeometry(), func() int64 { return 1 })
	err := db.Write2(
		Entry{Tag: blocks.TagCellVoltage, Value: blocks.NewCellVoltage(testGeometry())},
		Entry{Tag: blocks.TagCellTemperature, Value: blocks.NewCellTemperature(testGeometry())},
	)
	assert.Nil(t, err)
	_, h1, _ := db.Read1(blocks.TagCellVoltage)
	_, h2, _ := db.Read1(blocks.TagCellTemperature)
	assert.True(t, h1.Fresh())
	assert.True(t, h2.Fresh())
}

func TestWriteUnknownTagFails(t *testing.T) {
	db := New(testGeometry(), func() int64 { return 1 })
	err := db.Write1(blocks.Tag(255), blocks.SOF{})
	assert.NotNil(t, err)
}
