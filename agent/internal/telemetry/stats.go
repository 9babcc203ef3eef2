package telemetry

import "sync/atomic"

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	EventsReported  uint64 // admitted into the queue
	EventsDiscarded uint64 // dropped at admission (metrics off or shut down)
	EventsFlushed   uint64 // delivered in a successful batch
	BatchesSent     uint64
	BatchesFailed   uint64 // encode or transport failure; events lost
	MirrorErrors    uint64
	QueueLength     int
}

type counters struct {
	reported      atomic.Uint64
	discarded     atomic.Uint64
	flushed       atomic.Uint64
	batchesSent   atomic.Uint64
	batchesFailed atomic.Uint64
	mirrorErrors  atomic.Uint64
}

func (c *counters) snapshot(queueLen int) Stats {
	return Stats{
		EventsReported:  c.reported.Load(),
		EventsDiscarded: c.discarded.Load(),
		EventsFlushed:   c.flushed.Load(),
		BatchesSent:     c.batchesSent.Load(),
		BatchesFailed:   c.batchesFailed.Load(),
		MirrorErrors:    c.mirrorErrors.Load(),
		QueueLength:     queueLen,
	}
}
