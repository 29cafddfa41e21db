package persistence

import (
	"sync"

	"binance-signal-bot-go/internal/models"

	"go.uber.org/zap"
)

// AsyncWriter decorates an OpenSetRepository with asynchronous, coalescing
// writes. Snapshots are handed to a background loop through a buffered
// channel; when the producer outruns the writer, stale snapshots are replaced
// by newer ones so the loop never persists an outdated set. Reads pass
// through to the inner repository.
type AsyncWriter struct {
	inner  OpenSetRepository
	ch     chan *models.OpenSet
	stop   chan struct{}
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewAsyncWriter wraps the repository and starts the persistence loop.
func NewAsyncWriter(inner OpenSetRepository, logger *zap.SugaredLogger) *AsyncWriter {
	w := &AsyncWriter{
		inner:  inner,
		ch:     make(chan *models.OpenSet, 128),
		stop:   make(chan struct{}),
		logger: logger,
	}
	w.wg.Add(1)
	go w.persistenceLoop()
	return w
}

// SaveOpenSet enqueues the snapshot for the background loop. When the queue
// is full the oldest pending snapshot is discarded; the version counter makes
// the newest one strictly more complete.
func (w *AsyncWriter) SaveOpenSet(set *models.OpenSet) error {
	for {
		select {
		case w.ch <- set:
			return nil
		default:
			select {
			case <-w.ch: // drop the stale snapshot
			default:
			}
		}
	}
}

// LoadOpenSet reads through to the inner repository.
func (w *AsyncWriter) LoadOpenSet() (*models.OpenSet, error) {
	return w.inner.LoadOpenSet()
}

// Close flushes the pending snapshot, stops the loop and closes the inner
// repository.
func (w *AsyncWriter) Close() error {
	close(w.stop)
	w.wg.Wait()
	return w.inner.Close()
}

// persistenceLoop handles the asynchronous saving of snapshots.
func (w *AsyncWriter) persistenceLoop() {
	defer w.wg.Done()
	for {
		select {
		case set := <-w.ch:
			set = w.latest(set)
			if err := w.inner.SaveOpenSet(set); err != nil {
				w.logger.Errorf("CRITICAL: failed to save open set: %v", err)
			}
		case <-w.stop:
			// final flush
			if set := w.drain(); set != nil {
				if err := w.inner.SaveOpenSet(set); err != nil {
					w.logger.Errorf("CRITICAL: failed to save open set on shutdown: %v", err)
				}
			}
			return
		}
	}
}

// latest skips ahead to the newest queued snapshot.
func (w *AsyncWriter) latest(set *models.OpenSet) *models.OpenSet {
	for {
		select {
		case newer := <-w.ch:
			set = newer
		default:
			return set
		}
	}
}

func (w *AsyncWriter) drain() *models.OpenSet {
	select {
	case set := <-w.ch:
		return w.latest(set)
	default:
		return nil
	}
}
