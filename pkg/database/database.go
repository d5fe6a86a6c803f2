// Package database implements component A: the central, typed store
// of measurement and derived blocks shared between the acquisition
// task, the BMS logic task and the CAN task (spec.md §4.A).
package database

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/foxbms/foxbms-core/pkg/blocks"
	"github.com/foxbms/foxbms-core/pkg/config"
	"github.com/foxbms/foxbms-core/pkg/errs"
)

// record is one mutex-guarded slot in the catalog: the block's own
// lock serializes every reader and writer of that tag (spec.md §4.A,
// "one mutex per block").
type record struct {
	mu     sync.Mutex
	header blocks.Header
	value  blocks.Block
}

func (r *record) read() (blocks.Block, blocks.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value.Clone(), r.header
}

func (r *record) write(v blocks.Block, nowMs int64) blocks.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header.PreviousTimestampMs = r.header.TimestampMs
	r.header.TimestampMs = nowMs
	r.value = v
	return r.header
}

// Database is the central in-memory table store (component A). All
// operations are bounded-time; there are no waits for I/O.
type Database struct {
	nowMs   func() int64
	records []*record
	logger  *logrus.Entry
}

// New allocates every block in the catalog, zero-initialized and
// sized from the supplied geometry, exactly once. nowMs supplies the
// monotonic millisecond clock used to stamp writes.
func New(g config.Geometry, nowMs func() int64) *Database {
	db := &Database{nowMs: nowMs, records: make([]*record, blocks.Count()), logger: logrus.WithField("component", "database")}
	seed := func(tag blocks.Tag, v blocks.Block) {
		db.records[tag] = &record{header: blocks.Header{UniqueID: tag}, value: v}
	}
	seed(blocks.TagCellVoltage, blocks.NewCellVoltage(g))
	seed(blocks.TagCellTemperature, blocks.NewCellTemperature(g))
	seed(blocks.TagMinMax, blocks.NewMinMax(g))
	seed(blocks.TagPackValues, blocks.NewPackValues(g))
	seed(blocks.TagCurrentSensor, blocks.NewCurrentSensor(g))
	seed(blocks.TagSOF, blocks.SOF{})
	seed(blocks.TagSOX, blocks.NewSOX(g))
	seed(blocks.TagStateRequest, blocks.StateRequest{})
	seed(blocks.TagErrorState, blocks.ErrorState{})
	seed(blocks.TagMSLFlags, blocks.NewMSLFlags(g))
	seed(blocks.TagRSLFlags, blocks.NewRSLFlags(g))
	seed(blocks.TagMOLFlags, blocks.NewMOLFlags(g))
	seed(blocks.TagOpenWire, blocks.NewOpenWire(g))
	seed(blocks.TagBalancingFeedback, blocks.NewBalancingFeedback(g))
	seed(blocks.TagBalancingControl, blocks.NewBalancingControl(g))
	seed(blocks.TagSlaveControl, blocks.SlaveControl{})
	seed(blocks.TagAllGpioVoltages, blocks.NewAllGpioVoltages(g))
	seed(blocks.TagInsulationMonitoring, blocks.InsulationMonitoring{})
	seed(blocks.TagAerosolSensor, blocks.AerosolSensor{})
	seed(blocks.TagSOH, blocks.SOH{Perc: 100})
	seed(blocks.TagPhy, blocks.Phy{})
	return db
}

func (db *Database) slot(tag blocks.Tag) (*record, error) {
	if int(tag) < 0 || int(tag) >= len(db.records) || db.records[tag] == nil {
		return nil, errs.New(errs.KindProgrammer, "database", fmt.Errorf("unknown block tag %v", tag))
	}
	return db.records[tag], nil
}

// Read1 copies a single block's current contents into caller-owned
// storage. It never fails for a known tag — if the block was never
// written, the result has Header.TimestampMs == 0.
func (db *Database) Read1(tag blocks.Tag) (blocks.Block, blocks.Header, error) {
	r, err := db.slot(tag)
	if err != nil {
		return nil, blocks.Header{}, err
	}
	v, h := r.read()
	return v, h, nil
}

// Read2 is a convenience grouping of two independently serialized
// reads. No cross-block snapshot is promised.
func (db *Database) Read2(t1, t2 blocks.Tag) (v1 blocks.Block, h1 blocks.Header, v2 blocks.Block, h2 blocks.Header, err error) {
	if v1, h1, err = db.Read1(t1); err != nil {
		return
	}
	v2, h2, err = db.Read1(t2)
	return
}

// Read3 is a convenience grouping of three independently serialized reads.
func (db *Database) Read3(t1, t2, t3 blocks.Tag) (v1 blocks.Block, h1 blocks.Header, v2 blocks.Block, h2 blocks.Header, v3 blocks.Block, h3 blocks.Header, err error) {
	if v1, h1, v2, h2, err = db.Read2(t1, t2); err != nil {
		return
	}
	v3, h3, err = db.Read1(t3)
	return
}

// Read4 is a convenience grouping of four independently serialized reads.
func (db *Database) Read4(t1, t2, t3, t4 blocks.Tag) (v1 blocks.Block, h1 blocks.Header, v2 blocks.Block, h2 blocks.Header, v3 blocks.Block, h3 blocks.Header, v4 blocks.Block, h4 blocks.Header, err error) {
	if v1, h1, v2, h2, v3, h3, err = db.Read3(t1, t2, t3); err != nil {
		return
	}
	v4, h4, err = db.Read1(t4)
	return
}

// Write1 replaces a block's contents and atomically updates its
// header. Writing to an unknown tag is a programmer error.
func (db *Database) Write1(tag blocks.Tag, v blocks.Block) error {
	r, err := db.slot(tag)
	if err != nil {
		db.logger.WithField("tag", tag).Error("write to unknown block tag")
		return err
	}
	r.write(v, db.nowMs())
	return nil
}

// Entry pairs a tag with the value to write for it, used by Write2..4.
type Entry struct {
	Tag   blocks.Tag
	Value blocks.Block
}

// Write2 performs two independently atomic writes.
func (db *Database) Write2(e1, e2 Entry) error {
	if err := db.Write1(e1.Tag, e1.Value); err != nil {
		return err
	}
	return db.Write1(e2.Tag, e2.Value)
}

// Write3 performs three independently atomic writes.
func (db *Database) Write3(e1, e2, e3 Entry) error {
	if err := db.Write2(e1, e2); err != nil {
		return err
	}
	return db.Write1(e3.Tag, e3.Value)
}

// Write4 performs four independently atomic writes.
func (db *Database) Write4(e1, e2, e3, e4 Entry) error {
	if err := db.Write3(e1, e2, e3); err != nil {
		return err
	}
	return db.Write1(e4.Tag, e4.Value)
}

// Get is a typed convenience wrapper over Read1 for call sites that
// know the concrete block type for a tag (every encoder does).
func Get[T blocks.Block](db *Database, tag blocks.Tag) (T, blocks.Header, error) {
	var zero T
	v, h, err := db.Read1(tag)
	if err != nil {
		return zero, h, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, h, errs.New(errs.KindProgrammer, "database.Get", fmt.Errorf("tag %v: type mismatch", tag))
	}
	return typed, h, nil
}

// Set is a typed convenience wrapper over Write1.
func Set[T blocks.Block](db *Database, tag blocks.Tag, v T) error {
	return db.Write1(tag, v)
}
