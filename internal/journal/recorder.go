package journal

import (
	"context"
	"time"

	"paysweep/internal/sweep"
)

// Recorder saves every finished sweep, failed ones included.
type Recorder struct {
	Store     Store
	Retention time.Duration
}

func (r Recorder) Observe(ctx context.Context, res sweep.Result, runErr error) error {
	return r.Store.Save(ctx, FromResult(res, runErr, r.Retention))
}
