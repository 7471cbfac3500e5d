package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	journalBatch = 64
	journalFlush = time.Second
)

// Entry is one connection lifecycle record.
type Entry struct {
	Kind     string // accepted, refused, disconnected, spoofed
	ClientID int
	Remote   string
	Reason   string
	At       time.Time
}

// BatchWriter stores journal entries.
type BatchWriter interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

// EntryReader reads stored entries back, newest first.
type EntryReader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// ErrNotReadable is returned by Journal.Recent when its store cannot be read.
var ErrNotReadable = errors.New("persist: journal store is write-only")

// Journal buffers connection records from the tick loop and writes them in
// batches from its own goroutine. Record never blocks; entries are dropped
// when the buffer is full.
type Journal struct {
	w       BatchWriter
	ch      chan Entry
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	now     func() time.Time
	log     *zap.Logger
}

func NewJournal(w BatchWriter, queue int, log *zap.Logger) *Journal {
	if queue < 1 {
		queue = 1
	}
	return &Journal{
		w:    w,
		ch:   make(chan Entry, queue),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		now:  time.Now,
		log:  log,
	}
}

// Record queues an entry.
func (j *Journal) Record(kind string, clientID int, remote, reason string) {
	e := Entry{Kind: kind, ClientID: clientID, Remote: remote, Reason: reason, At: j.now()}
	select {
	case j.ch <- e:
	default:
		if j.dropped.Add(1) == 1 {
			j.log.Warn("journal queue full, dropping entries")
		}
	}
}

// Recent returns the newest stored entries. Entries still queued for the
// next flush are not included.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	r, ok := j.w.(EntryReader)
	if !ok {
		return nil, ErrNotReadable
	}
	return r.Recent(ctx, limit)
}

// Dropped returns how many entries were discarded.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Run writes batches until Close is called, then flushes what is queued.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(journalFlush)
	defer ticker.Stop()

	batch := make([]Entry, 0, journalBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := j.w.WriteBatch(wctx, batch); err != nil {
			j.log.Error("journal write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= journalBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.stop:
			for {
				select {
				case e := <-j.ch:
					batch = append(batch, e)
					if len(batch) >= journalBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case <-ctx.Done():
			flush()
			return
		}
	}
}

// Close stops Run after a final flush and waits for it.
func (j *Journal) Close() {
	j.once.Do(func() { close(j.stop) })
	<-j.done
}
