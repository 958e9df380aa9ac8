// Package background runs the periodic work that keeps repository indexes
// current.
package background

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval is used when NewIndexer is given a non-positive interval.
const DefaultInterval = 30 * time.Second

// Syncer is anything that can bring its index up to date.
type Syncer interface {
	Sync(ctx context.Context) (int64, error)
}

// Indexer calls Sync on a fixed interval until stopped.
type Indexer struct {
	syncer   Syncer
	interval time.Duration
	log      *logrus.Entry

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// NewIndexer creates an indexer for one repository.
func NewIndexer(s Syncer, interval time.Duration, log *logrus.Entry) *Indexer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Indexer{
		syncer:   s,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start runs one sync immediately, then one per interval.
func (ix *Indexer) Start(ctx context.Context) {
	ix.done.Add(1)
	go ix.run(ctx)
}

// Stop signals the indexer to stop and waits for a running sync to end.
func (ix *Indexer) Stop() {
	ix.stopOnce.Do(func() { close(ix.stop) })
	ix.done.Wait()
}

func (ix *Indexer) run(ctx context.Context) {
	defer ix.done.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ix.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ix.syncOnce(ctx)

	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ix.syncOnce(ctx)
		}
	}
}

func (ix *Indexer) syncOnce(ctx context.Context) {
	start := time.Now()
	latest, err := ix.syncer.Sync(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		ix.log.WithError(err).Warn("index sync failed")
		return
	}
	ix.log.WithFields(logrus.Fields{
		"rev":     latest,
		"elapsed": time.Since(start),
	}).Debug("index synced")
}
