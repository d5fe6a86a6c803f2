// Package txenc implements components H and I: one encoder per CAN
// TX message, plus the boot/crash/unsupported-mux one-shot helpers
// (spec.md §4.H, §4.I).
//
// Signal bit positions are laid out with a sequential cursor rather
// than hand-placed per the illustrative DBC excerpt in §6: the
// reference .dbc file is not part of this module's inputs, and the
// excerpt itself is flagged as illustrative. Every message still
// respects the few bit-exact anchors the spec gives for its own
// generic packer tests (pkg/signal), the factor/offset/signedness of
// every named signal, and the mux/rotation semantics.
package txenc

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/foxbms/foxbms-core/pkg/afe"
	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/bms"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/current"
	"github.com/foxbms/foxbms-core/pkg/database"
	"github.com/foxbms/foxbms-core/pkg/errs"
	"github.com/foxbms/foxbms-core/pkg/signal"
)

// cursor lays out adjacent fields in a frame without the caller
// hand-computing byte/bit arithmetic; see pkg/signal.NextBitStart.
type cursor struct {
	next       uint8
	endianness signal.Endianness
}

func newCursor(endianness signal.Endianness) *cursor {
	return &cursor{endianness: endianness}
}

func (c *cursor) take(length uint8) uint8 {
	start := c.next
	c.next = signal.NextBitStart(start, length, c.endianness)
	return start
}

// BootInfo is the fixed, rarely-changing identity data the boot and
// die-ID one-shot messages report. It is read from the MCU register
// block, out of scope for this module (spec.md §6).
type BootInfo struct {
	VersionMajor          uint8
	VersionMinor          uint8
	VersionPatch          uint8
	UnderVersionControl   bool
	Dirty                 bool
	DistanceFromRelease   uint8 // saturates to 31 with an overflow flag
	DeviceID              uint32
	DieID                 uint64
}

// Encoders holds every collaborator a CAN TX encoder needs: the
// database, pack geometry, the current/string-closed oracle, and the
// FSMs whose state is reported on the bus.
type Encoders struct {
	db       *database.Database
	geometry config.Geometry
	oracle   *current.Oracle
	afeFSM   *afe.FSM
	bmsFSM   *bms.FSM
	boot     BootInfo
	logger   *logrus.Entry
}

// New builds an Encoders bound to the running system's collaborators.
func New(db *database.Database, g config.Geometry, oracle *current.Oracle, afeFSM *afe.FSM, bmsFSM *bms.FSM, boot BootInfo) *Encoders {
	return &Encoders{
		db:       db,
		geometry: g,
		oracle:   oracle,
		afeFSM:   afeFSM,
		bmsFSM:   bmsFSM,
		boot:     boot,
		logger:   logrus.WithField("component", "txenc"),
	}
}

func build(buf *[8]byte, endianness signal.Endianness, fields func(msg *uint64) error) error {
	var msg uint64
	if err := fields(&msg); err != nil {
		return err
	}
	signal.SetCanDataWithMessageData(msg, buf, endianness)
	return nil
}

func setUnsigned(msg *uint64, bitStart, bitLength uint8, value float64, factor, offset float32, endianness signal.Endianness) error {
	sig := signal.Descriptor{BitStart: bitStart, BitLength: bitLength, Factor: factor, Offset: offset, Min: 0, Max: float32(uint64(1)<<bitLength - 1)}
	raw := uint64(signal.PrepareSignalData(float32(value), sig))
	return signal.SetMessageDataWithSignalData(msg, bitStart, bitLength, raw, endianness)
}

func setSigned(msg *uint64, bitStart, bitLength uint8, value int64, endianness signal.Endianness) error {
	mask := uint64(1)<<bitLength - 1
	return signal.SetMessageDataWithSignalData(msg, bitStart, bitLength, uint64(value)&mask, endianness)
}

// setRaw writes a bit field verbatim, bypassing prepare_signal_data's
// float32 scaling. Used for identifiers wider than float32's 24-bit
// mantissa (device ID, die ID), where a factor/offset round trip
// through float32 would silently lose low-order bits.
func setRaw(msg *uint64, bitStart, bitLength uint8, raw uint64, endianness signal.Endianness) error {
	return signal.SetMessageDataWithSignalData(msg, bitStart, bitLength, raw, endianness)
}

func setBool(msg *uint64, bitStart uint8, value bool, endianness signal.Endianness) error {
	var raw uint64
	if value {
		raw = 1
	}
	return signal.SetMessageDataWithSignalData(msg, bitStart, 1, raw, endianness)
}

// BmsState is a P1 encoder: contactor FSM state, the MSL/RSL/MOL
// "any violation" summary bits and the acquisition FSM's
// first-measurement latch.
func (e *Encoders) BmsState(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
	msl, _, rsl, _, mol, _, err := e.db.Read3(blocks.TagMSLFlags, blocks.TagRSLFlags, blocks.TagMOLFlags)
	if err != nil {
		return err
	}
	errState, _, err := e.db.Read1(blocks.TagErrorState)
	if err != nil {
		return err
	}
	es := errState.(blocks.ErrorState)

	c := newCursor(props.Endianness)
	return build(buf, props.Endianness, func(msg *uint64) error {
		stateBit := c.take(8)
		if err := setUnsigned(msg, stateBit, 8, float64(e.bmsFSM.State()), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setBool(msg, c.take(1), msl.(blocks.MSLFlags).Any(), props.Endianness); err != nil {
			return err
		}
		if err := setBool(msg, c.take(1), rsl.(blocks.RSLFlags).Any(), props.Endianness); err != nil {
			return err
		}
		if err := setBool(msg, c.take(1), mol.(blocks.MOLFlags).Any(), props.Endianness); err != nil {
			return err
		}
		if err := setBool(msg, c.take(1), es.General || es.AfeError || es.StackOverflow || es.FirstMeasurementTimeout, props.Endianness); err != nil {
			return err
		}
		return setBool(msg, c.take(1), e.afeFSM.IsFirstMeasurementFinished(), props.Endianness)
	})
}

// StringState is a P2 encoder: one string's closed status per tick,
// mux sweeping 0..NrStrings-1. Precharge completion is not reported.
func (e *Encoders) StringState(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	s := int(*mux)
	closed := e.oracle.IsStringClosed(s)
	c := newCursor(props.Endianness)
	err := build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(8), 8, float64(s), 1, 0, props.Endianness); err != nil {
			return err
		}
		return setBool(msg, c.take(1), closed, props.Endianness)
	})
	*mux = uint8((s + 1) % e.geometry.NrStrings)
	return err
}

// PackValues is a P1 encoder for the pack- and string-level electrical
// measurements.
func (e *Encoders) PackValues(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
	v, _, err := e.db.Read1(blocks.TagPackValues)
	if err != nil {
		return err
	}
	pv := v.(blocks.PackValues)

	c := newCursor(props.Endianness)
	return build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(14), 14, float64(pv.BatteryVoltageMv), 0.01, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(14), 14, float64(pv.HvBusVoltageMv), 0.01, 0, props.Endianness); err != nil {
			return err
		}
		if err := setSigned(msg, c.take(18), 18, int64(float64(pv.PackCurrentMa)*0.1), props.Endianness); err != nil {
			return err
		}
		return setSigned(msg, c.take(18), 18, int64(float64(pv.PackPowerW)*0.1), props.Endianness)
	})
}

// MinMaxValues is a P1 encoder. It reduces the per-string MinMax block
// to pack-level extremes, honouring the connected-string rule in
// spec.md §4.H ("Pack-level pre-encoding (minimum/maximum)").
func (e *Encoders) MinMaxValues(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
	v, _, err := e.db.Read1(blocks.TagMinMax)
	if err != nil {
		return err
	}
	mm := v.(blocks.MinMax)

	connected := e.oracle.NumberOfConnectedStrings()
	minCell, maxCell := blocks.SentinelMinCellMv, blocks.SentinelMaxCellMv
	minTemp, maxTemp := blocks.SentinelMinTempDdegC, blocks.SentinelMaxTempDdegC
	for s := 0; s < e.geometry.NrStrings; s++ {
		if connected != 0 && !e.oracle.IsStringClosed(s) {
			continue
		}
		if mm.MinCellMv[s] < minCell {
			minCell = mm.MinCellMv[s]
		}
		if mm.MaxCellMv[s] > maxCell {
			maxCell = mm.MaxCellMv[s]
		}
		if mm.MinTempDdegC[s] < minTemp {
			minTemp = mm.MinTempDdegC[s]
		}
		if mm.MaxTempDdegC[s] > maxTemp {
			maxTemp = mm.MaxTempDdegC[s]
		}
	}

	c := newCursor(props.Endianness)
	return build(buf, props.Endianness, func(msg *uint64) error {
		if err := setSigned(msg, c.take(16), 16, int64(minCell), props.Endianness); err != nil {
			return err
		}
		if err := setSigned(msg, c.take(16), 16, int64(maxCell), props.Endianness); err != nil {
			return err
		}
		if err := setSigned(msg, c.take(16), 16, int64(minTemp), props.Endianness); err != nil {
			return err
		}
		return setSigned(msg, c.take(16), 16, int64(maxTemp), props.Endianness)
	})
}

// LimitValues is a P1 encoder for the SOF recommended continuous
// currents and a pack voltage field. The voltage field carries the
// measured PackValues.BatteryVoltageMv, not a configured minimum pack
// voltage limit. The source carries TODO markers
// for pack charge/discharge power (spec.md §9, Open Questions); this
// encoder keeps the three signals the spec does fully define and
// nothing else.
func (e *Encoders) LimitValues(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
	v, _, err := e.db.Read1(blocks.TagSOF)
	if err != nil {
		return err
	}
	sof := v.(blocks.SOF)
	pv, _, err := e.db.Read1(blocks.TagPackValues)
	if err != nil {
		return err
	}
	packVoltage := pv.(blocks.PackValues).BatteryVoltageMv

	c := newCursor(props.Endianness)
	return build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(12), 12, float64(sof.RecommendedContinuousPackDischargeCurrentMa), 0.004, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(12), 12, float64(sof.RecommendedContinuousPackChargeCurrentMa), 0.004, 0, props.Endianness); err != nil {
			return err
		}
		return setUnsigned(msg, c.take(8), 8, float64(packVoltage), 0.00025, 0, props.Endianness)
	})
}

// PackStateEstimation is a P1 encoder implementing the pack-level SOE
// pre-encoding rule: maxima while charging, minima otherwise, zero
// when no string is connected (spec.md §4.H, property P6).
func (e *Encoders) PackStateEstimation(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
	v, _, err := e.db.Read1(blocks.TagSOX)
	if err != nil {
		return err
	}
	sox := v.(blocks.SOX)

	state, err := e.oracle.BatterySystemState()
	if err != nil {
		return err
	}
	connected := e.oracle.NumberOfConnectedStrings()
	charging := state == current.Charging

	var packSocPerc, packSoePerc, packSoeWh float64
	if connected > 0 {
		socArr, soeArr := sox.MinSocPerc, sox.MinSoePerc
		if charging {
			socArr, soeArr = sox.MaxSocPerc, sox.MaxSoePerc
		}
		extremeSoc, _ := extremumOfClosed(socArr, e.oracle.IsStringClosed, e.geometry.NrStrings, charging)
		extremeSoe, _ := extremumOfClosed(soeArr, e.oracle.IsStringClosed, e.geometry.NrStrings, charging)

		minSoeWh := uint32(math.MaxUint32)
		for s := 0; s < e.geometry.NrStrings; s++ {
			if !e.oracle.IsStringClosed(s) {
				continue
			}
			if sox.MinSoeWh[s] < minSoeWh {
				minSoeWh = sox.MinSoeWh[s]
			}
		}

		packSocPerc = float64(connected) * float64(extremeSoc) / float64(e.geometry.NrStrings)
		packSoePerc = float64(connected) * float64(extremeSoe) / float64(e.geometry.NrStrings)
		packSoeWh = float64(connected) * float64(minSoeWh)
	}

	c := newCursor(props.Endianness)
	return build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(16), 16, packSocPerc, 100, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(16), 16, packSoePerc, 100, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(24), 24, packSoeWh, 1, 0, props.Endianness); err != nil {
			return err
		}
		return setUnsigned(msg, c.take(8), 8, SOHConstantPercent, 1, 0, props.Endianness)
	})
}

// extremumOfClosed reduces values over the closed strings only,
// taking the maximum when charging (publish the most optimistic
// figure among what's actually connected) and the minimum otherwise
// (spec.md §4.H, property P6). found is false when no string is
// closed, in which case result is the zero value.
func extremumOfClosed(values []float32, closed func(int) bool, n int, maxNotMin bool) (result float32, found bool) {
	for s := 0; s < n; s++ {
		if !closed(s) {
			continue
		}
		v := values[s]
		if !found || (maxNotMin && v > result) || (!maxNotMin && v < result) {
			result = v
			found = true
		}
	}
	return result, found
}

// BmsStateDetails is a P1 encoder carrying one summary bit each for
// the MSL, RSL and MOL blocks, set when any flag of that block is set
// for any string. The individual per-flag, per-string values are not
// encoded.
func (e *Encoders) BmsStateDetails(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
	msl, _, rsl, _, mol, _, err := e.db.Read3(blocks.TagMSLFlags, blocks.TagRSLFlags, blocks.TagMOLFlags)
	if err != nil {
		return err
	}
	c := newCursor(props.Endianness)
	return build(buf, props.Endianness, func(msg *uint64) error {
		if err := setBool(msg, c.take(1), msl.(blocks.MSLFlags).Any(), props.Endianness); err != nil {
			return err
		}
		if err := setBool(msg, c.take(1), rsl.(blocks.RSLFlags).Any(), props.Endianness); err != nil {
			return err
		}
		return setBool(msg, c.take(1), mol.(blocks.MOLFlags).Any(), props.Endianness)
	})
}

// DebugResponse is an on-demand P1 frame; the caller supplies the
// payload via response, e.g. in reply to a CAN RX debug request.
func (e *Encoders) DebugResponse(response [8]byte) func(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	return func(_ signal.MessageProperties, buf *[8]byte, _ *uint8) error {
		*buf = response
		return nil
	}
}

// splitVoltageIndex maps a flat (string, cell) index into
// (string, module, cell-in-module), per spec.md §4.H's
// string_number_from_voltage_index family of helpers.
func (e *Encoders) splitVoltageIndex(i int) (s, m, cell int) {
	perString := e.geometry.NrCellBlocksPerString()
	s = i / perString
	rem := i % perString
	m = rem / e.geometry.NrCellBlocksPerModule
	cell = rem % e.geometry.NrCellBlocksPerModule
	return
}

// splitTemperatureIndex is the temperature equivalent of
// splitVoltageIndex.
func (e *Encoders) splitTemperatureIndex(i int) (s, m, sensor int) {
	perString := e.geometry.NrTempSensorsPerString()
	s = i / perString
	rem := i % perString
	m = rem / e.geometry.NrTempSensorsPerModule
	sensor = rem % e.geometry.NrTempSensorsPerModule
	return
}

// SOHConstantPercent is the hard-coded state-of-health figure the
// source reports in several places with a TODO for a real algorithm
// (spec.md §9); kept as an explicit constant rather than guessed at.
const SOHConstantPercent = 100

const cellVoltageSlots = 4

// CellVoltages is a P2 encoder: mux + up to 4 cell voltages and their
// invalid bits per frame, the whole CellVoltage block re-read whenever
// the counter wraps to 0 (spec.md §4.H).
func (e *Encoders) CellVoltages(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	total := e.geometry.NrStrings * e.geometry.NrCellBlocksPerString()
	counter := int(*mux)
	// Read1 always fetches the current block, matching "on counter==0
	// the encoder re-reads the full CellVoltage block" for every slot.
	v, _, err := e.db.Read1(blocks.TagCellVoltage)
	if err != nil {
		return err
	}
	cv := v.(blocks.CellVoltage)

	c := newCursor(props.Endianness)
	err = build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(8), 8, float64(counter/cellVoltageSlots), 1, 0, props.Endianness); err != nil {
			return err
		}
		for slot := 0; slot < cellVoltageSlots; slot++ {
			idx := counter + slot
			var voltageMv int16
			invalid := true
			if idx < total {
				s, m, cell := e.splitVoltageIndex(idx)
				voltageMv = cv.VoltageMv[s][idx-e.stringBase(s)]
				invalid = bitSet(cv.Invalid[s], m, cell)
			}
			voltageBit := c.take(13)
			invalidBit := c.take(1)
			if err := setUnsigned(msg, voltageBit, 13, float64(voltageMv), 1, 0, props.Endianness); err != nil {
				return err
			}
			if err := setBool(msg, invalidBit, invalid, props.Endianness); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	counter += cellVoltageSlots
	if counter >= total {
		counter = 0
	}
	*mux = uint8(counter)
	return nil
}

func (e *Encoders) stringBase(s int) int {
	return s * e.geometry.NrCellBlocksPerString()
}

func bitSet(row []uint32, moduleIndex, bitIndex int) bool {
	return row[moduleIndex]&(1<<uint(bitIndex)) != 0
}

const cellTemperatureSlots = 6

// CellTemperatures is a P2 encoder, the temperature equivalent of
// CellVoltages with 6 slots per frame and °C×10 -> °C scaling.
func (e *Encoders) CellTemperatures(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	total := e.geometry.NrTempSensors()
	counter := int(*mux)
	v, _, err := e.db.Read1(blocks.TagCellTemperature)
	if err != nil {
		return err
	}
	ct := v.(blocks.CellTemperature)

	c := newCursor(props.Endianness)
	err = build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(8), 8, float64(counter/cellTemperatureSlots), 1, 0, props.Endianness); err != nil {
			return err
		}
		for slot := 0; slot < cellTemperatureSlots; slot++ {
			idx := counter + slot
			var tempDdegC int16
			invalid := true
			if idx < total {
				s, m, sensor := e.splitTemperatureIndex(idx)
				tempDdegC = ct.TemperatureDdegC[s][idx-s*e.geometry.NrTempSensorsPerString()]
				invalid = bitSet(ct.Invalid[s], m, sensor)
			}
			tempBit := c.take(8)
			invalidBit := c.take(1)
			tempC := clampInt8(float64(tempDdegC) * 0.1)
			if err := setSigned(msg, tempBit, 8, int64(tempC), props.Endianness); err != nil {
				return err
			}
			if err := setBool(msg, invalidBit, invalid, props.Endianness); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	counter += cellTemperatureSlots
	if counter >= total {
		counter = 0
	}
	*mux = uint8(counter)
	return nil
}

func clampInt8(v float64) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}

// StringValuesP0 is a P2 per-string encoder: voltage and current.
func (e *Encoders) StringValuesP0(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	s := int(*mux)
	v, _, err := e.db.Read1(blocks.TagPackValues)
	if err != nil {
		return err
	}
	pv := v.(blocks.PackValues)

	c := newCursor(props.Endianness)
	err = build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(8), 8, float64(s), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(16), 16, float64(pv.StringVoltageMv[s]), 0.1, 0, props.Endianness); err != nil {
			return err
		}
		return setSigned(msg, c.take(18), 18, int64(float64(pv.StringCurrentMa[s])/0.1), props.Endianness)
	})
	*mux = uint8((s + 1) % e.geometry.NrStrings)
	return err
}

// StringValuesP1 is a P2 per-string encoder: power and energy counter.
// EnergyCounterWh is read through Read2, which takes the CurrentSensor
// block's own lock, the same lock every write of that block holds.
func (e *Encoders) StringValuesP1(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	s := int(*mux)
	pvVal, _, csVal, _, err := e.db.Read2(blocks.TagPackValues, blocks.TagCurrentSensor)
	if err != nil {
		return err
	}
	pv := pvVal.(blocks.PackValues)
	cs := csVal.(blocks.CurrentSensor)

	c := newCursor(props.Endianness)
	err = build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(8), 8, float64(s), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setSigned(msg, c.take(18), 18, int64(float64(pv.StringPowerW[s])/0.1), props.Endianness); err != nil {
			return err
		}
		return setSigned(msg, c.take(24), 24, int64(cs.EnergyCounterWh[s]), props.Endianness)
	})
	*mux = uint8((s + 1) % e.geometry.NrStrings)
	return err
}

// StringMinMaxValues is a P2 per-string encoder over the MinMax block.
func (e *Encoders) StringMinMaxValues(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	s := int(*mux)
	v, _, err := e.db.Read1(blocks.TagMinMax)
	if err != nil {
		return err
	}
	mm := v.(blocks.MinMax)

	c := newCursor(props.Endianness)
	err = build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(8), 8, float64(s), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setSigned(msg, c.take(16), 16, int64(mm.MinCellMv[s]), props.Endianness); err != nil {
			return err
		}
		if err := setSigned(msg, c.take(16), 16, int64(mm.MaxCellMv[s]), props.Endianness); err != nil {
			return err
		}
		if err := setSigned(msg, c.take(16), 16, int64(mm.MinTempDdegC[s]), props.Endianness); err != nil {
			return err
		}
		return setSigned(msg, c.take(16), 16, int64(mm.MaxTempDdegC[s]), props.Endianness)
	})
	*mux = uint8((s + 1) % e.geometry.NrStrings)
	return err
}

// StringStateEstimation is a P2 per-string encoder. Per spec.md §4.H
// ("Per-string SOE direction"), it picks each string's maximum SOE
// when that string's own current is charging, else the minimum.
func (e *Encoders) StringStateEstimation(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	s := int(*mux)
	soxVal, _, pvVal, _, err := e.db.Read2(blocks.TagSOX, blocks.TagPackValues)
	if err != nil {
		return err
	}
	sox := soxVal.(blocks.SOX)
	pv := pvVal.(blocks.PackValues)

	var soePerc float32
	if current.ClassifyCurrent(pv.StringCurrentMa[s], e.oracle.RestThresholdMilliamp()) == current.Charging {
		soePerc = sox.MaxSoePerc[s]
	} else {
		soePerc = sox.MinSoePerc[s]
	}

	// perc -> 0.25perc, per can_cbs_tx_string-state-estimation.c.
	const socSoeFactor = 4.0

	c := newCursor(props.Endianness)
	err = build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(8), 8, float64(s), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(9), 9, float64(sox.MinSocPerc[s]), socSoeFactor, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(9), 9, float64(sox.AvgSocPerc[s]), socSoeFactor, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(9), 9, float64(sox.MaxSocPerc[s]), socSoeFactor, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(9), 9, float64(soePerc), socSoeFactor, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(9), 9, SOHConstantPercent, socSoeFactor, 0, props.Endianness); err != nil {
			return err
		}
		// Wh -> 10Wh, per can_cbs_tx_string-state-estimation.c.
		return setUnsigned(msg, c.take(11), 11, float64(sox.MinSoeWh[s]), 0.1, 0, props.Endianness)
	})
	*mux = uint8((s + 1) % e.geometry.NrStrings)
	return err
}

// UnsupportedMultiplexerValue is a one-shot P1 helper reporting that an
// incoming multiplexed RX message carried a mux selector this firmware
// does not recognize (spec.md §4.I).
func (e *Encoders) UnsupportedMultiplexerValue(messageID uint32, muxValue uint8) func(props signal.MessageProperties, buf *[8]byte, mux *uint8) error {
	return func(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
		c := newCursor(props.Endianness)
		return build(buf, props.Endianness, func(msg *uint64) error {
			if err := setUnsigned(msg, c.take(16), 16, float64(messageID), 1, 0, props.Endianness); err != nil {
				return err
			}
			return setUnsigned(msg, c.take(8), 8, float64(muxValue), 1, 0, props.Endianness)
		})
	}
}

// TransmitBootMessage builds the one-shot boot/version frame
// (spec.md §4.I).
func (e *Encoders) TransmitBootMessage(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
	distance := e.boot.DistanceFromRelease
	overflow := false
	if distance > 31 {
		distance = 31
		overflow = true
	}
	c := newCursor(props.Endianness)
	return build(buf, props.Endianness, func(msg *uint64) error {
		if err := setUnsigned(msg, c.take(8), 8, float64(e.boot.VersionMajor), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(8), 8, float64(e.boot.VersionMinor), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(8), 8, float64(e.boot.VersionPatch), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setBool(msg, c.take(1), e.boot.UnderVersionControl, props.Endianness); err != nil {
			return err
		}
		if err := setBool(msg, c.take(1), e.boot.Dirty, props.Endianness); err != nil {
			return err
		}
		if err := setUnsigned(msg, c.take(5), 5, float64(distance), 1, 0, props.Endianness); err != nil {
			return err
		}
		if err := setBool(msg, c.take(1), overflow, props.Endianness); err != nil {
			return err
		}
		return setRaw(msg, c.take(32), 32, uint64(e.boot.DeviceID), props.Endianness)
	})
}

// TransmitDieID builds the one-shot 64-bit die-ID frame, split across
// two 32-bit halves (spec.md §4.I).
func (e *Encoders) TransmitDieID(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
	high := uint32(e.boot.DieID >> 32)
	low := uint32(e.boot.DieID)
	c := newCursor(props.Endianness)
	return build(buf, props.Endianness, func(msg *uint64) error {
		if err := setRaw(msg, c.take(32), 32, uint64(high), props.Endianness); err != nil {
			return err
		}
		return setRaw(msg, c.take(32), 32, uint64(low), props.Endianness)
	})
}

// FatalErrorAction is the closed set of causes send_fatal_error may
// report; any other value is a programmer error (spec.md §4.I).
type FatalErrorAction uint8

const (
	FatalErrorStackOverflow FatalErrorAction = iota
	FatalErrorAssertion
	FatalErrorUnknownState
)

// SendFatalError builds the one-shot crash-dump debug frame. An
// unrecognized action is a programmer error, matching the source's
// assert/trap discipline.
func (e *Encoders) SendFatalError(action FatalErrorAction) (func(props signal.MessageProperties, buf *[8]byte, mux *uint8) error, error) {
	if action > FatalErrorUnknownState {
		return nil, errs.Fatal(errs.New(errs.KindProgrammer, "txenc.SendFatalError", fmt.Errorf("unknown fatal error action %d", action)))
	}
	return func(props signal.MessageProperties, buf *[8]byte, _ *uint8) error {
		c := newCursor(props.Endianness)
		return build(buf, props.Endianness, func(msg *uint64) error {
			return setUnsigned(msg, c.take(8), 8, float64(action), 1, 0, props.Endianness)
		})
	}, nil
}
