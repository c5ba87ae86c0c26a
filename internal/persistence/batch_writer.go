package persistence

import (
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tradecore/internal/monitor"
)

// WriteOp is one buffered database write.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter coalesces audit writes into transactions. Writes are
// fire-and-forget: a failed batch is logged and dropped, never
// surfaced to the execution path.
type BatchWriter struct {
	db          *sql.DB
	mu          sync.Mutex
	buffer      []WriteOp
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	wg          sync.WaitGroup
	metrics     *monitor.SystemMetrics

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
}

// WriterMetrics reports batch writer throughput.
type WriterMetrics struct {
	TotalWrites  uint64 `json:"total_writes"`
	TotalBatches uint64 `json:"total_batches"`
	TotalErrors  uint64 `json:"total_errors"`
	Pending      int    `json:"pending"`
}

func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		db:          db,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.backgroundFlush()
	return bw
}

// SetMetrics attaches the system metrics sink. Flush durations feed
// its database latency histogram.
func (bw *BatchWriter) SetMetrics(metrics *monitor.SystemMetrics) {
	bw.metrics = metrics
}

// Write buffers one operation, flushing when the buffer fills.
func (bw *BatchWriter) Write(query string, args ...any) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, WriteOp{Query: query, Args: args})
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		bw.Flush()
	}
}

// Flush writes all buffered operations in one transaction.
func (bw *BatchWriter) Flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	bw.totalWrites.Add(uint64(len(ops)))
	bw.totalBatches.Add(1)

	if bw.metrics != nil {
		started := time.Now()
		defer func() {
			bw.metrics.DBLatency.RecordDuration(time.Since(started))
		}()
	}

	tx, err := bw.db.Begin()
	if err != nil {
		bw.totalErrors.Add(1)
		log.Printf("audit writer: begin failed, dropping %d ops: %v", len(ops), err)
		return
	}
	for _, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			tx.Rollback()
			bw.totalErrors.Add(1)
			log.Printf("audit writer: write failed, dropping batch: %v", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		bw.totalErrors.Add(1)
		log.Printf("audit writer: commit failed: %v", err)
	}
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bw.Flush()
		case <-bw.done:
			bw.Flush()
			return
		}
	}
}

// Pending reports buffered, unflushed operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Metrics snapshots writer throughput.
func (bw *BatchWriter) Metrics() WriterMetrics {
	return WriterMetrics{
		TotalWrites:  bw.totalWrites.Load(),
		TotalBatches: bw.totalBatches.Load(),
		TotalErrors:  bw.totalErrors.Load(),
		Pending:      bw.Pending(),
	}
}

// Close flushes remaining operations and stops the background loop.
func (bw *BatchWriter) Close() {
	close(bw.done)
	bw.wg.Wait()
}
