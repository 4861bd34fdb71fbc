package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CopyDraws pages every draw out of src, newest first, and upserts it into
// dst in batches. It returns how many rows dst reported as written; draws
// dst already holds unchanged are not counted.
func CopyDraws(ctx context.Context, dst, src Store, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}

	var written int64
	for offset := 0; ; offset += batch {
		draws, err := src.GetLatest(ctx, batch, offset)
		if err != nil {
			return written, eris.Wrapf(err, "store: copy draws read offset %d", offset)
		}
		if len(draws) == 0 {
			break
		}
		n, err := dst.SaveMany(ctx, draws)
		if err != nil {
			return written, eris.Wrapf(err, "store: copy draws write offset %d", offset)
		}
		written += n
		zap.L().Debug("store: copied batch", zap.Int("offset", offset), zap.Int("read", len(draws)), zap.Int64("written", n))
		if len(draws) < batch {
			break
		}
	}
	return written, nil
}
