// Package blocks defines the foxBMS database block catalog (spec.md
// §3): the closed set of typed records shared between the acquisition
// task, the BMS logic task and the CAN task.
package blocks

import "github.com/foxbms/foxbms-core/pkg/config"

// Tag enumerates the closed set of database blocks.
type Tag uint8

const (
	TagCellVoltage Tag = iota
	TagCellTemperature
	TagMinMax
	TagPackValues
	TagCurrentSensor
	TagSOF
	TagSOX
	TagStateRequest
	TagErrorState
	TagMSLFlags
	TagRSLFlags
	TagMOLFlags
	TagOpenWire
	TagBalancingFeedback
	TagBalancingControl
	TagSlaveControl
	TagAllGpioVoltages
	TagInsulationMonitoring
	TagAerosolSensor
	TagSOH
	TagPhy
	tagCount
)

func (t Tag) String() string {
	names := [...]string{
		"CellVoltage", "CellTemperature", "MinMax", "PackValues",
		"CurrentSensor", "SOF", "SOX", "StateRequest", "ErrorState",
		"MSLFlags", "RSLFlags", "MOLFlags", "OpenWire",
		"BalancingFeedback", "BalancingControl", "SlaveControl",
		"AllGpioVoltages", "InsulationMonitoring", "AerosolSensor",
		"SOH", "Phy",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "Unknown"
}

// Count is the number of tags in the closed catalog.
func Count() int { return int(tagCount) }

// Header is present conceptually at the start of every record: a
// monotonic timestamp updated by the writer, and the writer's prior
// value. A record is "fresh" iff TimestampMs != 0.
type Header struct {
	UniqueID            Tag
	TimestampMs         int64
	PreviousTimestampMs int64
}

// Fresh reports whether the block has ever been written.
func (h Header) Fresh() bool { return h.TimestampMs != 0 }

// Block is implemented by every record in the catalog so the database
// store can copy values out for readers without aliasing internal
// storage (spec.md §3 Ownership: no component may retain a pointer
// into block storage across task switches).
type Block interface {
	Clone() Block
}

// sentinel values used by component C (aggregator) when a string has
// no valid cell measurement yet.
const (
	SentinelMinCellMv    int16 = 1<<15 - 1 // INT16_MAX
	SentinelMaxCellMv    int16 = -1 << 15  // INT16_MIN
	SentinelMinTempDdegC int16 = 1<<15 - 1
	SentinelMaxTempDdegC int16 = -1 << 15
)

func make2DInt16(rows, cols int) [][]int16 {
	out := make([][]int16, rows)
	for i := range out {
		out[i] = make([]int16, cols)
	}
	return out
}

func make2DUint32(rows, cols int) [][]uint32 {
	out := make([][]uint32, rows)
	for i := range out {
		out[i] = make([]uint32, cols)
	}
	return out
}

func clone2DInt16(src [][]int16) [][]int16 {
	out := make([][]int16, len(src))
	for i, row := range src {
		out[i] = append([]int16(nil), row...)
	}
	return out
}

func clone2DUint32(src [][]uint32) [][]uint32 {
	out := make([][]uint32, len(src))
	for i, row := range src {
		out[i] = append([]uint32(nil), row...)
	}
	return out
}

// CellVoltage holds the per-(string, cell-block) voltage measurement
// and per-(string, module) invalid bitsets (one bit per cell).
type CellVoltage struct {
	VoltageMv [][]int16  // [string][cellBlockInString], signed, 0..8191 when valid
	Invalid   [][]uint32 // [string][moduleInString], bit i = cell i invalid
}

// NewCellVoltage allocates a zeroed CellVoltage sized from geometry.
func NewCellVoltage(g config.Geometry) CellVoltage {
	return CellVoltage{
		VoltageMv: make2DInt16(g.NrStrings, g.NrCellBlocksPerString()),
		Invalid:   make2DUint32(g.NrStrings, g.NrModulesPerString),
	}
}

func (c CellVoltage) Clone() Block {
	return CellVoltage{VoltageMv: clone2DInt16(c.VoltageMv), Invalid: clone2DUint32(c.Invalid)}
}

// CellTemperature holds the per-(string, sensor) temperature
// measurement (°C x10) and per-(string, module) invalid bitsets.
type CellTemperature struct {
	TemperatureDdegC [][]int16  // [string][sensorInString]
	Invalid          [][]uint32 // [string][moduleInString], bit i = sensor i invalid
}

// NewCellTemperature allocates a zeroed CellTemperature sized from geometry.
func NewCellTemperature(g config.Geometry) CellTemperature {
	return CellTemperature{
		TemperatureDdegC: make2DInt16(g.NrStrings, g.NrTempSensorsPerString()),
		Invalid:          make2DUint32(g.NrStrings, g.NrModulesPerString),
	}
}

func (c CellTemperature) Clone() Block {
	return CellTemperature{TemperatureDdegC: clone2DInt16(c.TemperatureDdegC), Invalid: clone2DUint32(c.Invalid)}
}

// MinMax holds the per-string reductions rebuilt by the aggregator
// (component C) on every cycle.
type MinMax struct {
	MinCellMv      []int16
	MaxCellMv      []int16
	MinTempDdegC   []int16
	MaxTempDdegC   []int16
}

// NewMinMax allocates a MinMax block pre-filled with sentinel values,
// sized from geometry.
func NewMinMax(g config.Geometry) MinMax {
	mm := MinMax{
		MinCellMv:    make([]int16, g.NrStrings),
		MaxCellMv:    make([]int16, g.NrStrings),
		MinTempDdegC: make([]int16, g.NrStrings),
		MaxTempDdegC: make([]int16, g.NrStrings),
	}
	for s := 0; s < g.NrStrings; s++ {
		mm.MinCellMv[s] = SentinelMinCellMv
		mm.MaxCellMv[s] = SentinelMaxCellMv
		mm.MinTempDdegC[s] = SentinelMinTempDdegC
		mm.MaxTempDdegC[s] = SentinelMaxTempDdegC
	}
	return mm
}

func (m MinMax) Clone() Block {
	return MinMax{
		MinCellMv:    append([]int16(nil), m.MinCellMv...),
		MaxCellMv:    append([]int16(nil), m.MaxCellMv...),
		MinTempDdegC: append([]int16(nil), m.MinTempDdegC...),
		MaxTempDdegC: append([]int16(nil), m.MaxTempDdegC...),
	}
}

// PackValues holds pack-level and per-string electrical measurements.
type PackValues struct {
	BatteryVoltageMv int32
	HvBusVoltageMv   int32
	PackCurrentMa    int32
	PackPowerW       int32
	StringVoltageMv  []int32
	StringCurrentMa  []int32
	StringPowerW     []int32
}

// NewPackValues allocates a zeroed PackValues block sized from geometry.
func NewPackValues(g config.Geometry) PackValues {
	return PackValues{
		StringVoltageMv: make([]int32, g.NrStrings),
		StringCurrentMa: make([]int32, g.NrStrings),
		StringPowerW:    make([]int32, g.NrStrings),
	}
}

func (p PackValues) Clone() Block {
	return PackValues{
		BatteryVoltageMv: p.BatteryVoltageMv,
		HvBusVoltageMv:   p.HvBusVoltageMv,
		PackCurrentMa:    p.PackCurrentMa,
		PackPowerW:       p.PackPowerW,
		StringVoltageMv:  append([]int32(nil), p.StringVoltageMv...),
		StringCurrentMa:  append([]int32(nil), p.StringCurrentMa...),
		StringPowerW:     append([]int32(nil), p.StringPowerW...),
	}
}

// CurrentSensor holds the per-string energy counters. In this module
// the block is written like every other one, through the database's
// Write1 under the block's own mutex, and Read1 takes the same mutex.
type CurrentSensor struct {
	EnergyCounterWh []int32
}

// NewCurrentSensor allocates a zeroed CurrentSensor block.
func NewCurrentSensor(g config.Geometry) CurrentSensor {
	return CurrentSensor{EnergyCounterWh: make([]int32, g.NrStrings)}
}

func (c CurrentSensor) Clone() Block {
	return CurrentSensor{EnergyCounterWh: append([]int32(nil), c.EnergyCounterWh...)}
}

// SOF holds the recommended continuous safe operating currents.
type SOF struct {
	RecommendedContinuousPackChargeCurrentMa    int32
	RecommendedContinuousPackDischargeCurrentMa int32
}

func (s SOF) Clone() Block { return s }

// SOX combines SOC and SOE estimates, per string.
type SOX struct {
	MinSocPerc []float32
	AvgSocPerc []float32
	MaxSocPerc []float32
	MinSoePerc []float32
	MaxSoePerc []float32
	MinSoeWh   []uint32
}

// NewSOX allocates a zeroed SOX block sized from geometry.
func NewSOX(g config.Geometry) SOX {
	return SOX{
		MinSocPerc: make([]float32, g.NrStrings),
		AvgSocPerc: make([]float32, g.NrStrings),
		MaxSocPerc: make([]float32, g.NrStrings),
		MinSoePerc: make([]float32, g.NrStrings),
		MaxSoePerc: make([]float32, g.NrStrings),
		MinSoeWh:   make([]uint32, g.NrStrings),
	}
}

func (s SOX) Clone() Block {
	return SOX{
		MinSocPerc: append([]float32(nil), s.MinSocPerc...),
		AvgSocPerc: append([]float32(nil), s.AvgSocPerc...),
		MaxSocPerc: append([]float32(nil), s.MaxSocPerc...),
		MinSoePerc: append([]float32(nil), s.MinSoePerc...),
		MaxSoePerc: append([]float32(nil), s.MaxSoePerc...),
		MinSoeWh:   append([]uint32(nil), s.MinSoeWh...),
	}
}

// ContactorRequest is the closed set of operator state requests.
type ContactorRequest uint8

const (
	RequestNone ContactorRequest = iota
	RequestStandby
	RequestNormal
	RequestOpen
)

// StateRequest carries the latest operator contactor request.
type StateRequest struct {
	Requested ContactorRequest
}

func (s StateRequest) Clone() Block { return s }

// ErrorState bundles the sticky and non-sticky error flags the
// contactor FSM (component E) reacts to.
type ErrorState struct {
	StackOverflow           bool // sticky until reboot
	AfeError                bool
	FirstMeasurementTimeout bool
	General                 bool
}

func (e ErrorState) Clone() Block { return e }

// LimitFlags is the per-string shape shared by MSL/RSL/MOL blocks.
type LimitFlags struct {
	OverVoltage              []bool
	UnderVoltage             []bool
	OverTemperatureCharge    []bool
	OverTemperatureDischarge []bool
	OverCurrentCharge        []bool
	OverCurrentDischarge     []bool
}

func newLimitFlags(g config.Geometry) LimitFlags {
	return LimitFlags{
		OverVoltage:              make([]bool, g.NrStrings),
		UnderVoltage:             make([]bool, g.NrStrings),
		OverTemperatureCharge:    make([]bool, g.NrStrings),
		OverTemperatureDischarge: make([]bool, g.NrStrings),
		OverCurrentCharge:        make([]bool, g.NrStrings),
		OverCurrentDischarge:     make([]bool, g.NrStrings),
	}
}

func cloneBoolSlice(src []bool) []bool { return append([]bool(nil), src...) }

func (l LimitFlags) cloneInto() LimitFlags {
	return LimitFlags{
		OverVoltage:              cloneBoolSlice(l.OverVoltage),
		UnderVoltage:             cloneBoolSlice(l.UnderVoltage),
		OverTemperatureCharge:    cloneBoolSlice(l.OverTemperatureCharge),
		OverTemperatureDischarge: cloneBoolSlice(l.OverTemperatureDischarge),
		OverCurrentCharge:        cloneBoolSlice(l.OverCurrentCharge),
		OverCurrentDischarge:     cloneBoolSlice(l.OverCurrentDischarge),
	}
}

// Any reports whether any flag is set for any string.
func (l LimitFlags) Any() bool {
	for i := range l.OverVoltage {
		if l.OverVoltage[i] || l.UnderVoltage[i] || l.OverTemperatureCharge[i] ||
			l.OverTemperatureDischarge[i] || l.OverCurrentCharge[i] || l.OverCurrentDischarge[i] {
			return true
		}
	}
	return false
}

// MSLFlags are Maximum Safe Limit violations: cause the BMS to open
// contactors (spec.md §4.E).
type MSLFlags struct{ LimitFlags }

func NewMSLFlags(g config.Geometry) MSLFlags { return MSLFlags{newLimitFlags(g)} }
func (m MSLFlags) Clone() Block              { return MSLFlags{m.LimitFlags.cloneInto()} }

// RSLFlags are Recommended Safe Limit violations.
type RSLFlags struct{ LimitFlags }

func NewRSLFlags(g config.Geometry) RSLFlags { return RSLFlags{newLimitFlags(g)} }
func (r RSLFlags) Clone() Block              { return RSLFlags{r.LimitFlags.cloneInto()} }

// MOLFlags are Maximum Operating Limit violations.
type MOLFlags struct{ LimitFlags }

func NewMOLFlags(g config.Geometry) MOLFlags { return MOLFlags{newLimitFlags(g)} }
func (m MOLFlags) Clone() Block              { return MOLFlags{m.LimitFlags.cloneInto()} }

// OpenWire is a passthrough block written by the AFE open-wire check.
type OpenWire struct {
	OpenWireDetected [][]bool // [string][cellBlockInString]
}

func NewOpenWire(g config.Geometry) OpenWire {
	rows := make([][]bool, g.NrStrings)
	for i := range rows {
		rows[i] = make([]bool, g.NrCellBlocksPerString())
	}
	return OpenWire{OpenWireDetected: rows}
}

func (o OpenWire) Clone() Block {
	out := make([][]bool, len(o.OpenWireDetected))
	for i, row := range o.OpenWireDetected {
		out[i] = cloneBoolSlice(row)
	}
	return OpenWire{OpenWireDetected: out}
}

// BalancingFeedback is a passthrough block reporting which cells are
// actively being balanced.
type BalancingFeedback struct {
	BalancingActive [][]uint32 // [string][moduleInString] bitset
}

func NewBalancingFeedback(g config.Geometry) BalancingFeedback {
	return BalancingFeedback{BalancingActive: make2DUint32(g.NrStrings, g.NrModulesPerString)}
}

func (b BalancingFeedback) Clone() Block {
	return BalancingFeedback{BalancingActive: clone2DUint32(b.BalancingActive)}
}

// BalancingControl is a passthrough block requesting which cells
// should be balanced.
type BalancingControl struct {
	BalancingRequest [][]uint32 // [string][moduleInString] bitset
	Enabled          bool
}

func NewBalancingControl(g config.Geometry) BalancingControl {
	return BalancingControl{BalancingRequest: make2DUint32(g.NrStrings, g.NrModulesPerString)}
}

func (b BalancingControl) Clone() Block {
	return BalancingControl{BalancingRequest: clone2DUint32(b.BalancingRequest), Enabled: b.Enabled}
}

// SlaveControl is a passthrough block carrying slave-board commands.
type SlaveControl struct {
	ResetRequest bool
}

func (s SlaveControl) Clone() Block { return s }

// AllGpioVoltages is a passthrough block of auxiliary ADC channels.
type AllGpioVoltages struct {
	VoltageMv [][]int16 // [string][moduleInString]
}

func NewAllGpioVoltages(g config.Geometry) AllGpioVoltages {
	return AllGpioVoltages{VoltageMv: make2DInt16(g.NrStrings, g.NrModulesPerString)}
}

func (a AllGpioVoltages) Clone() Block { return AllGpioVoltages{VoltageMv: clone2DInt16(a.VoltageMv)} }

// InsulationMonitoring is a passthrough block from the IMD collaborator.
type InsulationMonitoring struct {
	ResistanceKOhm int32
	Valid          bool
}

func (i InsulationMonitoring) Clone() Block { return i }

// AerosolSensor is a passthrough block from the thermal-event aerosol
// sensor.
type AerosolSensor struct {
	ParticleConcentration int32
	Valid                 bool
}

func (a AerosolSensor) Clone() Block { return a }

// SOH is reported as a constant 100% until a state-of-health algorithm
// is supplied (spec.md §9 Open Questions).
type SOH struct {
	Perc float32
}

func (s SOH) Clone() Block { return s }

// Phy is a passthrough block of PHY/transceiver link diagnostics.
type Phy struct {
	LinkUp bool
}

func (p Phy) Clone() Block { return p }
