package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
	"github.com/c360/colsink/resolver"
)

// Outcome reports the result of writing one batch.
type Outcome struct {
	Success bool
	// Err is the cause of a failed write. Nil on success.
	Err error
	// Records are the records of the batch, in order.
	Records []*message.Record
	// Insertions is the number of column insertions executed (0 on failure).
	Insertions int
	Duration   time.Duration
}

// Writer turns a batch into one MutationRequest and executes it.
type Writer struct {
	store  Store
	tables resolver.TableResolver
	rows   resolver.RowKeyResolver
	logger *slog.Logger
}

// NewWriter creates a writer over an explicitly owned store handle.
func NewWriter(store Store, tables resolver.TableResolver, rows resolver.RowKeyResolver, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:  store,
		tables: tables,
		rows:   rows,
		logger: logger,
	}
}

// Build resolves the destination of every record and collects one insertion
// per field. Any resolution or conversion error aborts the whole request.
func (w *Writer) Build(batch []*message.Record) (*MutationRequest, error) {
	size := 0
	for _, rec := range batch {
		size += rec.Len()
	}
	req := &MutationRequest{Insertions: make([]Insertion, 0, size)}

	for i, rec := range batch {
		table, err := w.tables.ResolveTable(rec)
		if err != nil {
			return nil, errors.Wrap(err, "Writer", "Build", fmt.Sprintf("resolve table of record %d", i))
		}
		rowKey, err := w.rows.ResolveRowKey(rec)
		if err != nil {
			return nil, errors.Wrap(err, "Writer", "Build", fmt.Sprintf("resolve row key of record %d", i))
		}

		for _, f := range rec.Fields() {
			value, err := message.Text(f.Value)
			if err != nil {
				return nil, errors.Wrap(err, "Writer", "Build", fmt.Sprintf("convert field %q of record %d", f.Name, i))
			}
			req.Add(Insertion{
				Table:  table,
				RowKey: rowKey,
				Column: f.Name,
				Value:  value,
			})
		}
	}

	return req, nil
}

// Write executes the batch as one mutation request. Errors never escape: they
// are logged and reported through the returned Outcome.
func (w *Writer) Write(ctx context.Context, batch []*message.Record) Outcome {
	start := time.Now()
	out := Outcome{Records: batch}

	if len(batch) == 0 {
		out.Success = true
		return out
	}

	req, err := w.Build(batch)
	if err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		w.logger.Error("Unable to build batch",
			"records", len(batch),
			"error", err)
		return out
	}

	if err := w.store.Execute(ctx, req); err != nil {
		out.Err = errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrWrite, err), "Writer", "Write", "execute mutation")
		out.Duration = time.Since(start)
		w.logger.Error("Unable to write batch",
			"records", len(batch),
			"insertions", req.Len(),
			"tables", req.Tables(),
			"error", err)
		return out
	}

	out.Success = true
	out.Insertions = req.Len()
	out.Duration = time.Since(start)

	w.logger.Debug("Batch written",
		"records", len(batch),
		"insertions", out.Insertions,
		"rows", req.Rows(),
		"duration", out.Duration)

	return out
}
