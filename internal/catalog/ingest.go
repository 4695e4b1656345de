package catalog

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"skycat/internal/header"
	"skycat/internal/model"
	"skycat/internal/normalize"
)

// IngestStats counts the outcome of one ingest run.
type IngestStats struct {
	Headers    int // headers cached
	Normalized int // canonical records produced
	Skipped    int // not recognized
	Failed     int // unreadable, truncated or corrupt
}

func (s *IngestStats) add(o IngestStats) {
	s.Headers += o.Headers
	s.Normalized += o.Normalized
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Ingester reads the headers of new and changed files, caches them and
// derives canonical metadata.
type Ingester struct {
	fsmgr    FilesystemManager
	db       Database
	chain    *normalize.Chain
	keywords *KeywordSet
	logger   Logger
	workers  int
}

func NewIngester(fsmgr FilesystemManager, db Database, chain *normalize.Chain, keywords *KeywordSet, logger Logger, workers int) *Ingester {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Ingester{
		fsmgr:    fsmgr,
		db:       db,
		chain:    chain,
		keywords: keywords,
		logger:   logger,
		workers:  workers,
	}
}

// Ingest processes files of root on a bounded pool of workers. Per-file
// failures are logged and counted; only cancellation and catalog write
// failures are returned.
func (in *Ingester) Ingest(ctx context.Context, root *model.StorageRoot, files []*model.FileRecord) (IngestStats, error) {
	var headers, normalized, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			meta, err := in.ingestFile(gctx, root, f)
			switch {
			case errors.Is(err, header.ErrNotRecognized):
				in.logger.Debug("skipping unrecognized file", "root", root.Name, "path", f.Path, "file", f.Name)
				skipped.Add(1)
				return nil
			case errors.Is(err, errStore):
				return err
			case err != nil:
				in.logger.Warn("reading header failed", "root", root.Name, "path", f.Path, "file", f.Name, "err", err)
				failed.Add(1)
				return nil
			}
			headers.Add(1)
			if meta != nil {
				normalized.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	return IngestStats{
		Headers:    int(headers.Load()),
		Normalized: int(normalized.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}, err
}

var errStore = errors.New("catalog write failed")

func (in *Ingester) ingestFile(ctx context.Context, root *model.StorageRoot, f *model.FileRecord) (*model.ImageMetadata, error) {
	rc, err := in.fsmgr.Open(root.Path, f.RelativePath())
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	raw, err := header.Read(f.Name, rc)
	if err != nil {
		return nil, err
	}
	meta := in.derive(root, f, raw)
	if err := in.db.SaveHeader(ctx, f.ID, raw, meta); err != nil {
		return nil, fmt.Errorf("%w: saving header of %s: %v", errStore, f.RelativePath(), err)
	}
	return meta, nil
}

// derive decodes a cached header and runs the normalizer chain. A header
// that cannot be normalized still stays cached; it just has no canonical
// record.
func (in *Ingester) derive(root *model.StorageRoot, f *model.FileRecord, raw *header.Raw) *model.ImageMetadata {
	h, err := raw.Header()
	if err != nil {
		in.logger.Warn("decoding header failed", "root", root.Name, "path", f.Path, "file", f.Name, "err", err)
		return nil
	}
	if in.keywords != nil {
		in.keywords.Add(h.Keywords()...)
	}
	meta, err := in.chain.Normalize(f.ID, h)
	if err != nil {
		in.logger.Warn("normalizing header failed", "root", root.Name, "path", f.Path, "file", f.Name, "err", err)
		return nil
	}
	return meta
}
