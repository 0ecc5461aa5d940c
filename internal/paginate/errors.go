package paginate

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammed-shakir/wfs-dump/internal/core/executor"
)

const (
	KindWrite    = "WriteError"
	KindCanceled = "Canceled"
	KindOther    = "Error"
)

// RunError is the single fatal error of a run: what failed, and where.
// Page is 1-based.
type RunError struct {
	Kind   string
	Offset int
	Page   int
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s at offset %d (page %d): %v", e.Kind, e.Offset, e.Page, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func classify(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if k := executor.KindOf(err); k != "" {
		return string(k)
	}
	return KindOther
}
