package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forge-ai/forge/internal/chunk"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

// BatcherOptions configures a Batcher.
type BatcherOptions struct {
	// BatchSize is the number of chunks per provider call.
	BatchSize int
	// Workers bounds the batches in flight.
	Workers int
	// Dimensions is the index dimension every vector must match.
	Dimensions int
	// Retry bounds attempts per batch. AttemptTimeout is the per-attempt
	// deadline.
	Retry ferrors.RetryConfig
	// OnBatch is called after each batch finishes, successful or not.
	OnBatch func(done, total int)
}

// DefaultBatcherOptions returns the defaults for a provider of dims.
func DefaultBatcherOptions(dims int) BatcherOptions {
	retry := ferrors.DefaultRetryConfig()
	retry.MaxRetries = DefaultMaxRetries
	retry.AttemptTimeout = DefaultTimeout
	return BatcherOptions{
		BatchSize:  DefaultBatchSize,
		Workers:    DefaultWorkers,
		Dimensions: dims,
		Retry:      retry,
	}
}

// Batcher embeds chunks in fixed-size batches.
type Batcher struct {
	provider Provider
	opts     BatcherOptions
}

// NewBatcher creates a Batcher over p.
func NewBatcher(p Provider, opts BatcherOptions) *Batcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = p.Dimensions()
	}
	return &Batcher{provider: p, opts: opts}
}

// Provider returns the underlying provider.
func (b *Batcher) Provider() Provider { return b.provider }

type batchOutcome struct {
	vecs    [][]float32
	failure *BatchFailure
}

// Embed sends chunks to the provider in batches of BatchSize, up to
// Workers at a time. A batch that still fails after its retries is logged
// and skipped. A vector whose length differs from Dimensions aborts the
// whole call with a dimension-mismatch error, as does cancellation.
func (b *Batcher) Embed(ctx context.Context, chunks []chunk.Chunk) (*Result, error) {
	res := &Result{}
	if len(chunks) == 0 {
		return res, nil
	}

	size := b.opts.BatchSize
	total := (len(chunks) + size - 1) / size
	res.Batches = total
	outcomes := make([]batchOutcome, total)
	model := b.provider.ModelName()
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)

	for i := 0; i < total; i++ {
		lo := i * size
		hi := min(lo+size, len(chunks))
		batch := chunks[lo:hi]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, c := range batch {
				texts[j] = c.Text
			}

			start := time.Now()
			vecs, err := ferrors.RetryWithResult(gctx, b.opts.Retry, func(ctx context.Context) ([][]float32, error) {
				vecs, err := b.provider.EmbedBatch(ctx, texts)
				if err != nil {
					slog.Debug("embed_attempt_failed",
						slog.Int("batch", i),
						slog.String("error", err.Error()))
					return nil, err
				}
				if len(vecs) != len(texts) {
					return nil, ferrors.New(ferrors.ErrCodeProviderFailed,
						fmt.Sprintf("provider returned %d vectors for %d texts", len(vecs), len(texts)), nil)
				}
				return vecs, nil
			})

			if b.opts.OnBatch != nil {
				defer func() { b.opts.OnBatch(int(done.Add(1)), total) }()
			}

			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				ids := make([]string, len(batch))
				for j, c := range batch {
					ids[j] = c.ID
				}
				slog.Warn("embed_batch_failed",
					slog.Int("batch", i),
					slog.Int("chunks", len(batch)),
					slog.Duration("elapsed", time.Since(start)),
					slog.String("error", err.Error()))
				outcomes[i].failure = &BatchFailure{Batch: i, ChunkIDs: ids, Err: err}
				return nil
			}

			for _, v := range vecs {
				if len(v) != b.opts.Dimensions {
					return ferrors.DimensionMismatch(b.opts.Dimensions, len(v)).
						WithDetail("model", model)
				}
			}
			outcomes[i].vecs = vecs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Embeddings = make([]Embedding, 0, len(chunks))
	for i, o := range outcomes {
		if o.failure != nil {
			res.Failures = append(res.Failures, *o.failure)
			continue
		}
		lo := i * size
		for j, v := range o.vecs {
			res.Embeddings = append(res.Embeddings, Embedding{
				ChunkID: chunks[lo+j].ID,
				Vector:  v,
				Model:   model,
			})
		}
	}

	slog.Info("embed_complete",
		slog.String("model", model),
		slog.Int("embeddings", len(res.Embeddings)),
		slog.Int("batches", total),
		slog.Int("skipped_batches", len(res.Failures)))
	return res, nil
}
