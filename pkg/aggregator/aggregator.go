// Package aggregator implements component C: the per-string min/max
// reduction over the latest voltage and temperature blocks (spec.md
// §4.C). cmd/foxbms runs it once per scheduler tick; the BMS FSM and
// CAN encoders read the MinMax block it writes.
package aggregator

import (
	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/database"
)

// Aggregator recomputes the MinMax block from the current CellVoltage
// and CellTemperature blocks.
type Aggregator struct {
	db       *database.Database
	geometry config.Geometry
}

// New builds an Aggregator bound to db.
func New(db *database.Database, g config.Geometry) *Aggregator {
	return &Aggregator{db: db, geometry: g}
}

// bitSet reports whether bit index is set in the per-module bitset row.
func bitSet(row []uint32, moduleIndex, bitIndex int) bool {
	return row[moduleIndex]&(1<<uint(bitIndex)) != 0
}

// Run reads CellVoltage and CellTemperature, recomputes per-string
// min/max ignoring invalid measurements, and writes MinMax back
// (spec.md §4.C). A string with every cell invalid keeps the sentinel
// values.
func (a *Aggregator) Run() error {
	voltage, _, temperature, _, err := a.db.Read2(blocks.TagCellVoltage, blocks.TagCellTemperature)
	if err != nil {
		return err
	}
	cv := voltage.(blocks.CellVoltage)
	ct := temperature.(blocks.CellTemperature)

	out := blocks.NewMinMax(a.geometry)
	cellsPerModule := a.geometry.NrCellBlocksPerModule
	tempsPerModule := a.geometry.NrTempSensorsPerModule

	for s := 0; s < a.geometry.NrStrings; s++ {
		out.MinCellMv[s], out.MaxCellMv[s] = reduceInt16(cv.VoltageMv[s], cv.Invalid[s], cellsPerModule, blocks.SentinelMinCellMv, blocks.SentinelMaxCellMv)
		out.MinTempDdegC[s], out.MaxTempDdegC[s] = reduceInt16(ct.TemperatureDdegC[s], ct.Invalid[s], tempsPerModule, blocks.SentinelMinTempDdegC, blocks.SentinelMaxTempDdegC)
	}

	return a.db.Write1(blocks.TagMinMax, out)
}

// reduceInt16 finds the min and max of values, skipping any index
// whose invalid bit is set. perModule is the bit stride: index i
// belongs to module i/perModule, bit i%perModule. sentinelMin and
// sentinelMax are returned unchanged when every index is invalid.
func reduceInt16(values []int16, invalid []uint32, perModule int, sentinelMin, sentinelMax int16) (min, max int16) {
	min, max = sentinelMin, sentinelMax
	any := false
	for i, v := range values {
		module := i / perModule
		bit := i % perModule
		if bitSet(invalid, module, bit) {
			continue
		}
		if !any || v < min {
			min = v
		}
		if !any || v > max {
			max = v
		}
		any = true
	}
	return min, max
}
