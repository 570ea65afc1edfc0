package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/lighterexec/internal/domain"
	"github.com/alejandrodnm/lighterexec/internal/ports"
)

const (
	journalQueueDepth   = 256
	journalWriteTimeout = 5 * time.Second
)

// journalSink writes to the execution journal from a single worker so that
// no pipeline stage waits on storage. A full queue drops the entry.
type journalSink struct {
	journal ports.ExecutionJournal
	runID   string
	queue   chan func(context.Context) error
	done    sync.WaitGroup
	once    sync.Once
}

func newJournalSink(journal ports.ExecutionJournal, runID string) *journalSink {
	s := &journalSink{journal: journal, runID: runID}
	if journal == nil {
		return s
	}
	s.queue = make(chan func(context.Context) error, journalQueueDepth)
	s.done.Add(1)
	go s.run()
	return s
}

func (s *journalSink) run() {
	defer s.done.Done()
	for write := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		if err := write(ctx); err != nil {
			slog.Warn("execution: journal write failed", "err", err)
		}
		cancel()
	}
}

func (s *journalSink) enqueue(kind string, write func(context.Context) error) {
	if s.queue == nil {
		return
	}
	select {
	case s.queue <- write:
	default:
		slog.Warn("execution: journal queue full, entry dropped", "kind", kind)
	}
}

func (s *journalSink) close() {
	if s.queue == nil {
		return
	}
	s.once.Do(func() {
		close(s.queue)
		s.done.Wait()
	})
}

func (s *journalSink) startRun(run domain.RunInfo) {
	s.enqueue("run", func(ctx context.Context) error {
		return s.journal.StartRun(ctx, run)
	})
}

func (s *journalSink) directive(d domain.Directive, at time.Time) {
	creates, cancels := d.Counts()
	rec := domain.DirectiveRecord{
		RunID:       s.runID,
		DirectiveID: d.ID,
		Attempt:     d.Attempt,
		Source:      d.Source,
		Creates:     creates,
		Cancels:     cancels,
		CreatedAt:   at,
	}
	s.enqueue("directive", func(ctx context.Context) error {
		return s.journal.RecordDirective(ctx, rec)
	})
}

func (s *journalSink) outcome(rec domain.OutcomeRecord) {
	rec.RunID = s.runID
	s.enqueue("outcome", func(ctx context.Context) error {
		return s.journal.RecordOutcome(ctx, rec)
	})
}

func (s *journalSink) breakerTrip(trip domain.BreakerTrip) {
	trip.RunID = s.runID
	s.enqueue("breaker", func(ctx context.Context) error {
		return s.journal.RecordBreakerTrip(ctx, trip)
	})
}

func (s *journalSink) upsertLive(live domain.LiveOrder) {
	s.enqueue("live", func(ctx context.Context) error {
		return s.journal.UpsertLiveOrder(ctx, s.runID, live)
	})
}

func (s *journalSink) removeLive(orderIndex int64) {
	s.enqueue("live", func(ctx context.Context) error {
		return s.journal.RemoveLiveOrder(ctx, orderIndex)
	})
}
