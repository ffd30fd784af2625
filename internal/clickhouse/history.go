package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minttrace/minttrace/internal/detection"
)

// historyTable is the unprefixed detection history table name.
const historyTable = "detection_history"

// HistorySchema creates the detection history table.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS detection_history (
    scan_id            String,
    wallet             String,
    token_address      String,
    symbol             String,
    method             LowCardinality(String),
    confidence_score   UInt8,
    authority_verified UInt8,
    scan_complete      UInt8,
    duration_ms        Int64,
    ts                 DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (wallet, ts)
`

// DetectionRow is one persisted token attribution from a scan.
type DetectionRow struct {
	ScanID            string
	Wallet            string
	TokenAddress      string
	Symbol            string
	Method            string
	ConfidenceScore   int
	AuthorityVerified bool
	ScanComplete      bool
	DurationMs        int64
	Timestamp         time.Time
}

// FlushHook persists one batch of rows. The default hook inserts into
// ClickHouse; tests swap it out.
type FlushHook func(ctx context.Context, table string, rows []DetectionRow) error

// HistoryWriter batches detection rows and flushes to ClickHouse when the
// batch fills or on a timer.
type HistoryWriter struct {
	client        *Client
	database      string
	batchSize     int
	flushInterval time.Duration
	flushHook     FlushHook

	mu         sync.Mutex
	buf        []DetectionRow
	closed     bool
	flushCount int64
	errorCount int64

	stopCh  chan struct{}
	doneWg  sync.WaitGroup
	started bool
}

// NewHistoryWriter creates a writer that flushes on size or interval.
func NewHistoryWriter(client *Client, database string, batchSize int, flushInterval time.Duration) *HistoryWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	w := &HistoryWriter{
		client:        client,
		database:      database,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buf:           make([]DetectionRow, 0, batchSize),
		stopCh:        make(chan struct{}),
	}
	w.flushHook = w.insertRows
	return w
}

// SetFlushHook replaces the persistence function. For tests.
func (w *HistoryWriter) SetFlushHook(hook FlushHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushHook = hook
}

// tableName returns the table, prefixed with the database when set.
func (w *HistoryWriter) tableName() string {
	if w.database == "" {
		return historyTable
	}
	return w.database + "." + historyTable
}

// EnsureSchema creates the history table if it does not exist.
func (w *HistoryWriter) EnsureSchema(ctx context.Context) error {
	if err := w.client.Conn().Exec(ctx, HistorySchema); err != nil {
		return fmt.Errorf("create detection_history: %w", err)
	}
	return nil
}

// WriteResult expands one detection result into rows and buffers them.
// A scan with zero tokens still produces a single marker row so that
// "scanned, found nothing" is visible in history.
func (w *HistoryWriter) WriteResult(ctx context.Context, result *detection.DetectionResult) error {
	now := time.Now()

	rows := make([]DetectionRow, 0, len(result.Tokens))
	for _, tok := range result.Tokens {
		rows = append(rows, DetectionRow{
			ScanID:            result.Meta.ScanID,
			Wallet:            result.Meta.Wallet,
			TokenAddress:      tok.Address,
			Symbol:            tok.Symbol,
			Method:            string(tok.Method),
			ConfidenceScore:   tok.ConfidenceScore,
			AuthorityVerified: tok.AuthorityVerified,
			ScanComplete:      result.Meta.ScanComplete,
			DurationMs:        result.Meta.DurationMs,
			Timestamp:         now,
		})
	}
	if len(rows) == 0 {
		rows = append(rows, DetectionRow{
			ScanID:       result.Meta.ScanID,
			Wallet:       result.Meta.Wallet,
			ScanComplete: result.Meta.ScanComplete,
			DurationMs:   result.Meta.DurationMs,
			Timestamp:    now,
		})
	}

	for _, row := range rows {
		if err := w.Write(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// Write buffers one row, flushing when the batch is full.
func (w *HistoryWriter) Write(ctx context.Context, row DetectionRow) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("history writer is closed")
	}
	w.buf = append(w.buf, row)
	full := len(w.buf) >= w.batchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Start launches the background flush loop. It returns immediately; Close
// stops the loop and performs a final flush.
func (w *HistoryWriter) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started || w.closed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	log.Info().
		Int("batch_size", w.batchSize).
		Dur("flush_interval", w.flushInterval).
		Msg("Detection history writer started")

	w.doneWg.Add(1)
	go func() {
		defer w.doneWg.Done()
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				if err := w.Flush(ctx); err != nil {
					log.Error().Err(err).Msg("Periodic history flush error")
				}
			}
		}
	}()
}

// Flush writes all buffered rows through the flush hook.
func (w *HistoryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	rows := w.buf
	w.buf = make([]DetectionRow, 0, w.batchSize)
	hook := w.flushHook
	w.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	if err := hook(ctx, w.tableName(), rows); err != nil {
		w.mu.Lock()
		w.errorCount++
		w.mu.Unlock()
		log.Error().Err(err).Int("count", len(rows)).Msg("Failed to flush detection history")
		return err
	}

	w.mu.Lock()
	w.flushCount++
	w.mu.Unlock()

	log.Debug().Int("rows", len(rows)).Msg("Detection history batch flushed")
	return nil
}

// Close stops the flush loop, performs a final flush, and rejects further
// writes.
func (w *HistoryWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	if started {
		close(w.stopCh)
		w.doneWg.Wait()
	}

	err := w.Flush(context.Background())

	w.mu.Lock()
	flushes, errs := w.flushCount, w.errorCount
	w.mu.Unlock()

	log.Info().
		Int64("total_flushes", flushes).
		Int64("errors", errs).
		Msg("Detection history writer closed")
	return err
}

// Stats returns writer statistics.
func (w *HistoryWriter) Stats() (flushCount, errorCount int64, pending int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushCount, w.errorCount, len(w.buf)
}

// insertRows is the default flush hook: a prepared batch insert.
func (w *HistoryWriter) insertRows(ctx context.Context, table string, rows []DetectionRow) error {
	batch, err := w.client.Conn().PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (scan_id, wallet, token_address, symbol, method, confidence_score, authority_verified, scan_complete, duration_ms, ts)",
		table))
	if err != nil {
		return fmt.Errorf("prepare history batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.ScanID,
			r.Wallet,
			r.TokenAddress,
			r.Symbol,
			r.Method,
			uint8(r.ConfidenceScore),
			boolToUInt8(r.AuthorityVerified),
			boolToUInt8(r.ScanComplete),
			r.DurationMs,
			r.Timestamp,
		); err != nil {
			return fmt.Errorf("append history row: %w", err)
		}
	}

	return batch.Send()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
