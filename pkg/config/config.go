// Package config loads the pack geometry, CAN transport and timing
// parameters that the rest of the foxBMS core is built from, out of an
// INI file read once at startup.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Geometry holds the build-time pack geometry constants of spec.md §2.
// Everything sized from these is allocated once, at construction time,
// and never resized on the hot tick path.
type Geometry struct {
	NrStrings               int
	NrModulesPerString      int
	NrCellBlocksPerModule   int
	NrTempSensorsPerModule  int
}

// NrCellBlocksPerString is the derived cell-block count per string.
func (g Geometry) NrCellBlocksPerString() int {
	return g.NrModulesPerString * g.NrCellBlocksPerModule
}

// NrTempSensors is the derived total temperature sensor count.
func (g Geometry) NrTempSensors() int {
	return g.NrStrings * g.NrModulesPerString * g.NrTempSensorsPerModule
}

// NrTempSensorsPerString is the derived per-string sensor count.
func (g Geometry) NrTempSensorsPerString() int {
	return g.NrModulesPerString * g.NrTempSensorsPerModule
}

// Validate checks that every geometry constant is strictly positive.
func (g Geometry) Validate() error {
	if g.NrStrings <= 0 {
		return fmt.Errorf("config: NrStrings must be positive, got %d", g.NrStrings)
	}
	if g.NrModulesPerString <= 0 {
		return fmt.Errorf("config: NrModulesPerString must be positive, got %d", g.NrModulesPerString)
	}
	if g.NrCellBlocksPerModule <= 0 {
		return fmt.Errorf("config: NrCellBlocksPerModule must be positive, got %d", g.NrCellBlocksPerModule)
	}
	if g.NrTempSensorsPerModule <= 0 {
		return fmt.Errorf("config: NrTempSensorsPerModule must be positive, got %d", g.NrTempSensorsPerModule)
	}
	return nil
}

// Timing holds the cooperative tick periods and thresholds used by the
// AFE FSM, the BMS contactor FSM and the current-direction oracle.
type Timing struct {
	AfeTickMs           int
	SchedulerTickMs     int
	PrechargeTimeoutMs  int
	RestCurrentMilliamp int32
}

// CAN holds the transport parameters for the default socketcan bus.
type CAN struct {
	Interface string
	Channel   string
	BitrateHz int
	NodeID    uint8
}

// Config is the full, parsed startup configuration.
type Config struct {
	Geometry Geometry
	Timing   Timing
	CAN      CAN
}

// Default returns the reference foxBMS development configuration: a
// single string, 18 modules of 12 cell blocks and 8 temperature
// sensors each — matching the values used throughout the original
// source's unit tests.
func Default() Config {
	return Config{
		Geometry: Geometry{
			NrStrings:              1,
			NrModulesPerString:     18,
			NrCellBlocksPerModule:  12,
			NrTempSensorsPerModule: 8,
		},
		Timing: Timing{
			AfeTickMs:           1,
			SchedulerTickMs:     10,
			PrechargeTimeoutMs:  2000,
			RestCurrentMilliamp: 100,
		},
		CAN: CAN{
			Interface: "socketcan",
			Channel:   "can0",
			BitrateHz: 500_000,
			NodeID:    0x01,
		},
	}
}

// Load reads a foxbms.ini-format file (path, []byte or io.Reader, per
// ini.Load's own polymorphism) and returns the parsed Config, starting
// from Default() for anything the file leaves unset.
func Load(source any) (Config, error) {
	cfg := Default()
	file, err := ini.Load(source)
	if err != nil {
		return Config{}, fmt.Errorf("config: loading ini: %w", err)
	}

	if sec, err := file.GetSection("geometry"); err == nil {
		if v, err := sec.Key("nr_strings").Int(); err == nil {
			cfg.Geometry.NrStrings = v
		}
		if v, err := sec.Key("nr_modules_per_string").Int(); err == nil {
			cfg.Geometry.NrModulesPerString = v
		}
		if v, err := sec.Key("nr_cell_blocks_per_module").Int(); err == nil {
			cfg.Geometry.NrCellBlocksPerModule = v
		}
		if v, err := sec.Key("nr_temp_sensors_per_module").Int(); err == nil {
			cfg.Geometry.NrTempSensorsPerModule = v
		}
	}

	if sec, err := file.GetSection("timing"); err == nil {
		if v, err := sec.Key("afe_tick_ms").Int(); err == nil {
			cfg.Timing.AfeTickMs = v
		}
		if v, err := sec.Key("scheduler_tick_ms").Int(); err == nil {
			cfg.Timing.SchedulerTickMs = v
		}
		if v, err := sec.Key("precharge_timeout_ms").Int(); err == nil {
			cfg.Timing.PrechargeTimeoutMs = v
		}
		if v, err := sec.Key("rest_current_ma").Int(); err == nil {
			cfg.Timing.RestCurrentMilliamp = int32(v)
		}
	}

	if sec, err := file.GetSection("can"); err == nil {
		if v := sec.Key("interface").String(); v != "" {
			cfg.CAN.Interface = v
		}
		if v := sec.Key("channel").String(); v != "" {
			cfg.CAN.Channel = v
		}
		if v, err := sec.Key("bitrate_hz").Int(); err == nil {
			cfg.CAN.BitrateHz = v
		}
		if v, err := sec.Key("node_id").Int(); err == nil {
			cfg.CAN.NodeID = uint8(v)
		}
	}

	if err := cfg.Geometry.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
