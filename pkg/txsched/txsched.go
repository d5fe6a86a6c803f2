// Package txsched implements component G: the periodic CAN TX
// scheduler, a time-wheel ticking at the GCD of all message periods
// (spec.md §4.G).
package txsched

import (
	"github.com/sirupsen/logrus"

	"github.com/foxbms/foxbms-core/pkg/can"
	"github.com/foxbms/foxbms-core/pkg/signal"
)

// EncoderFunc populates buf for one frame. mux is the entry's own
// mutable multiplexer byte, touched only from the TX task — no lock
// is needed (spec.md §5, "shared-resource policy").
type EncoderFunc func(props signal.MessageProperties, buf *[8]byte, mux *uint8) error

// Entry is one constant registration in the TX registry.
type Entry struct {
	Name     string
	Props    signal.MessageProperties
	PeriodMs int64
	PhaseMs  int64
	Encoder  EncoderFunc

	mux uint8
}

// NewEntry builds a registry entry with its mux counter at 0.
func NewEntry(name string, props signal.MessageProperties, periodMs, phaseMs int64, encoder EncoderFunc) Entry {
	return Entry{Name: name, Props: props, PeriodMs: periodMs, PhaseMs: phaseMs, Encoder: encoder}
}

func translateIDKind(k signal.IDKind) can.IDKind {
	if k == signal.Ext29 {
		return can.Ext29
	}
	return can.Std11
}

// Scheduler fires each entry's encoder on its own period/phase and
// hands the resulting frame to a can.Bus, best-effort.
type Scheduler struct {
	bus     can.Bus
	entries []Entry
	logger  *logrus.Entry
}

// New builds a Scheduler over a constant registry. The slice is
// copied so that per-entry mux counters are private to this
// Scheduler instance.
func New(bus can.Bus, registry []Entry) *Scheduler {
	entries := make([]Entry, len(registry))
	copy(entries, registry)
	return &Scheduler{bus: bus, entries: entries, logger: logrus.WithField("component", "txsched")}
}

// Tick evaluates every entry for the given monotonic tick time and
// fires the ones that are due. It never blocks: a busy bus drops the
// frame and the next period tries again.
func (s *Scheduler) Tick(nowMs int64) {
	for i := range s.entries {
		e := &s.entries[i]
		if nowMs < e.PhaseMs {
			continue
		}
		if (nowMs-e.PhaseMs)%e.PeriodMs != 0 {
			continue
		}
		s.fire(e)
	}
}

func (s *Scheduler) fire(e *Entry) {
	var buf [8]byte
	if err := e.Encoder(e.Props, &buf, &e.mux); err != nil {
		s.logger.WithError(err).WithField("message", e.Name).Error("encoder failed")
		return
	}
	frame := can.NewFrame(e.Props.ID, translateIDKind(e.Props.IDKind), e.Props.DLC)
	frame.Data = buf
	if err := s.bus.Send(frame); err != nil {
		s.logger.WithError(err).WithField("message", e.Name).Debug("frame dropped, will retry next period")
	}
}

// FireNow fires a one-shot message, given its properties and encoder,
// outside the periodic
// schedule (DebugResponse, UnsupportedMultiplexerValue and the
// boot/die-ID/crash-dump helpers in pkg/txenc are all "on demand").
func (s *Scheduler) FireNow(props signal.MessageProperties, encoder EncoderFunc) error {
	var buf [8]byte
	var mux uint8
	if err := encoder(props, &buf, &mux); err != nil {
		return err
	}
	frame := can.NewFrame(props.ID, translateIDKind(props.IDKind), props.DLC)
	frame.Data = buf
	return s.bus.Send(frame)
}
