// Command foxbms wires the acquisition, aggregation, contactor and CAN
// TX components into a running instance: load configuration, build the
// database and bus, start the cooperative tick goroutines and let the
// scheduler drive the periodic message registry (spec.md §5, §6).
package main

import (
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/foxbms/foxbms-core/pkg/afe"
	"github.com/foxbms/foxbms-core/pkg/aggregator"
	"github.com/foxbms/foxbms-core/pkg/bms"
	"github.com/foxbms/foxbms-core/pkg/can"
	_ "github.com/foxbms/foxbms-core/pkg/can/socketcan"
	_ "github.com/foxbms/foxbms-core/pkg/can/virtual"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/current"
	"github.com/foxbms/foxbms-core/pkg/database"
	"github.com/foxbms/foxbms-core/pkg/signal"
	"github.com/foxbms/foxbms-core/pkg/txenc"
	"github.com/foxbms/foxbms-core/pkg/txsched"
)

func main() {
	log.SetLevel(log.InfoLevel)

	iniPath := flag.String("c", "", "foxbms.ini configuration file path, empty uses the built-in defaults")
	interfaceName := flag.String("i", "", "CAN interface name, overrides the config file")
	flag.Parse()

	cfg := config.Default()
	if *iniPath != "" {
		loaded, err := config.Load(*iniPath)
		if err != nil {
			log.WithError(err).Error("failed to load configuration")
			os.Exit(1)
		}
		cfg = loaded
	}
	if *interfaceName != "" {
		cfg.CAN.Interface = *interfaceName
	}

	start := time.Now()
	nowMs := func() int64 { return time.Since(start).Milliseconds() }

	db := database.New(cfg.Geometry, nowMs)

	bus, err := can.NewBus(cfg.CAN.Interface, cfg.CAN.Channel)
	if err != nil {
		log.WithError(err).WithField("interface", cfg.CAN.Interface).Error("failed to construct CAN bus")
		os.Exit(1)
	}
	if err := bus.Connect(cfg.CAN.BitrateHz); err != nil {
		log.WithError(err).Error("failed to connect CAN bus")
		os.Exit(1)
	}
	defer bus.Disconnect()

	afeFSM := afe.New(db, cfg.Geometry, &dummyTransport{geometry: cfg.Geometry})
	agg := aggregator.New(db, cfg.Geometry)
	oracle := current.New(db, cfg.Timing, cfg.Geometry.NrStrings)
	bmsFSM := bms.New(db, afeFSM, oracle, &dummyContactors{}, cfg.Geometry, cfg.Timing)

	boot := txenc.BootInfo{
		VersionMajor:        1,
		VersionMinor:        0,
		VersionPatch:        0,
		UnderVersionControl: true,
		Dirty:               false,
		DeviceID:            0,
		DieID:               0,
	}
	enc := txenc.New(db, cfg.Geometry, oracle, afeFSM, bmsFSM, boot)

	scheduler := txsched.New(bus, registry(enc))

	afeTicker := time.NewTicker(time.Duration(cfg.Timing.AfeTickMs) * time.Millisecond)
	defer afeTicker.Stop()
	schedulerTicker := time.NewTicker(time.Duration(cfg.Timing.SchedulerTickMs) * time.Millisecond)
	defer schedulerTicker.Stop()

	go func() {
		for range afeTicker.C {
			afeFSM.Trigger()
			if afeFSM.State() == afe.StateUninitialized {
				_ = afeFSM.Initialize()
			}
		}
	}()

	go func() {
		// The scheduler fires an entry only when the tick time is an exact
		// phase/period match, so it is fed a tick count in milliseconds
		// rather than jittery wall-clock time.
		var schedulerNowMs int64
		for range schedulerTicker.C {
			if err := agg.Run(); err != nil {
				log.WithError(err).Debug("aggregator run skipped")
			}
			if err := bmsFSM.Trigger(); err != nil {
				log.WithError(err).Error("bms trigger failed")
			}
			scheduler.Tick(schedulerNowMs)
			schedulerNowMs += int64(cfg.Timing.SchedulerTickMs)
		}
	}()

	log.WithField("interface", cfg.CAN.Interface).WithField("channel", cfg.CAN.Channel).Info("foxbms core running")
	select {}
}

// registry builds the constant periodic TX table of spec.md §6.
func registry(e *txenc.Encoders) []txsched.Entry {
	big := signal.Big
	return []txsched.Entry{
		txsched.NewEntry("BmsState", props(0x220, big), 100, 0, e.BmsState),
		txsched.NewEntry("StringState", props(0x221, big), 100, 70, e.StringState),
		txsched.NewEntry("PackValues", props(0x222, big), 100, 60, e.PackValues),
		txsched.NewEntry("MinMaxValues", props(0x223, big), 100, 40, e.MinMaxValues),
		txsched.NewEntry("LimitValues", props(0x224, big), 100, 30, e.LimitValues),
		txsched.NewEntry("PackStateEstimation", props(0x225, big), 1000, 50, e.PackStateEstimation),
		txsched.NewEntry("BmsStateDetails", props(0x226, big), 1000, 100, e.BmsStateDetails),
		txsched.NewEntry("CellVoltages", props(0x240, big), 100, 10, e.CellVoltages),
		txsched.NewEntry("CellTemperatures", props(0x250, big), 200, 20, e.CellTemperatures),
		txsched.NewEntry("StringValuesP0", props(0x280, big), 100, 80, e.StringValuesP0),
		txsched.NewEntry("StringMinMaxValues", props(0x281, big), 100, 90, e.StringMinMaxValues),
		txsched.NewEntry("StringStateEstimation", props(0x282, big), 1000, 0, e.StringStateEstimation),
		txsched.NewEntry("StringValuesP1", props(0x283, big), 100, 10, e.StringValuesP1),
	}
}

func props(id uint32, endianness signal.Endianness) signal.MessageProperties {
	return signal.MessageProperties{ID: id, IDKind: signal.Std11, DLC: 8, Endianness: endianness}
}

// dummyTransport is a placeholder AFE collaborator returning zeroed
// readings, standing in for the real chip driver this module does not
// implement (spec.md §6).
type dummyTransport struct {
	geometry config.Geometry
}

func (t *dummyTransport) Initialize() error { return nil }

func (t *dummyTransport) ReadVoltages(buf [][]int16) error {
	return nil
}

func (t *dummyTransport) ReadTemperatures(buf [][]int16) error {
	return nil
}

// dummyContactors is a placeholder contactor driver that reports
// precharge as immediately complete, standing in for the real
// hardware collaborator this module does not implement.
type dummyContactors struct{}

func (c *dummyContactors) Close(stringIdx int) error      { return nil }
func (c *dummyContactors) Open(stringIdx int) error       { return nil }
func (c *dummyContactors) OpenAll() error                 { return nil }
func (c *dummyContactors) IsPrechargeComplete(s int) bool { return true }
