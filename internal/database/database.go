package database

import (
	"context"
	"errors"
	"io"
)

var ErrTimeout = errors.New("operation timed out")

// Dumper produces a full logical dump of the live store on w.
type Dumper interface {
	Dump(ctx context.Context, w io.Writer) error
}
