package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"artifactd/pkg/types"
)

// writeJob carries one write-through to the disk tier.
type writeJob struct {
	key        string
	artifactID string
	variant    types.Variant
	kind       types.ProviderKind
	ttl        time.Duration
	payload    []byte
}

// writeQueue serializes disk write-through on a single worker with a
// bounded buffer. A full queue is an explicit, counted condition rather
// than an unbounded goroutine per write; drops are safe because the disk
// tier is best-effort.
type writeQueue struct {
	jobs      chan writeJob
	done      chan struct{}
	closeOnce sync.Once
	disk      *diskTier
	log       zerolog.Logger
}

func newWriteQueue(depth int, disk *diskTier, log zerolog.Logger) *writeQueue {
	if depth <= 0 {
		depth = 16
	}
	q := &writeQueue{
		jobs: make(chan writeJob, depth),
		done: make(chan struct{}),
		disk: disk,
		log:  log,
	}
	go q.run()
	return q
}

func (q *writeQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		if err := q.disk.write(job.key, job.artifactID, job.variant, job.kind, job.ttl, job.payload); err != nil {
			// Best-effort: the in-memory result was already returned.
			q.log.Warn().
				Str("artifact", job.artifactID).
				Str("variant", string(job.variant)).
				Err(err).
				Msg("disk write-through failed")
		}
	}
}

// enqueue submits a job without blocking. Returns false when the queue is
// full (backpressure).
func (q *writeQueue) enqueue(job writeJob) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		writeQueueDrops.Inc()
		q.log.Warn().Str("artifact", job.artifactID).Msg("write queue full, dropping write-through")
		return false
	}
}

// close drains outstanding jobs and stops the worker.
func (q *writeQueue) close() {
	q.closeOnce.Do(func() { close(q.jobs) })
	<-q.done
}
