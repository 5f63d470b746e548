package processor

import (
	"context"
	"io"
	"os"

	"slidecast/internal/pkg/errors"
)

// Output is a finished render waiting to be delivered. It owns the job's
// workspace until Stream returns or Close is called.
type Output struct {
	JobID       string
	Path        string
	Size        int64
	Clips       int
	DurationSec float64

	job *job
}

// Stream copies the rendered file to w and then releases the workspace,
// whether or not the copy completed.
func (o *Output) Stream(ctx context.Context, w io.Writer) (int64, error) {
	o.job.transition(ctx, StateStreaming, 0)

	f, err := os.Open(o.Path)
	if err != nil {
		err = errors.Wrap(err, "render.stream", "failed to open output")
		o.Close(ctx, err)
		return 0, err
	}

	n, err := io.Copy(w, f)
	_ = f.Close()
	if err != nil {
		code := errors.CodeInternal
		if ctx.Err() != nil {
			code = errors.CodeCanceled
		}
		err = errors.WrapWithCode(err, code, "render.stream", "stream interrupted")
	}
	o.Close(ctx, err)
	return n, err
}

// Close releases the workspace without streaming. cause, when non-nil,
// marks the job as failed. Safe to call more than once.
func (o *Output) Close(ctx context.Context, cause error) {
	if o == nil || o.job == nil {
		return
	}
	o.job.close(ctx, cause, o.Size)
}
