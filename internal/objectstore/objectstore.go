// Package objectstore is the durable blob storage boundary.
package objectstore

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"time"
)

var (
	// ErrNotFound reports a download of a missing object.
	ErrNotFound = errors.New("object not found")
	// ErrExists reports a non-upsert upload onto an existing object.
	ErrExists = errors.New("object already exists")
)

// Object describes one stored blob.
type Object struct {
	Name      string
	CreatedAt time.Time
	Size      int64
}

// SortBy selects the listing order.
type SortBy int

const (
	SortByName SortBy = iota
	SortByCreatedAt
)

// ListOptions paginates and orders a listing.
type ListOptions struct {
	Limit      int
	Offset     int
	SortBy     SortBy
	Descending bool
}

// UploadOptions controls a single upload.
type UploadOptions struct {
	ContentType string
	// Upsert allows replacing an existing object. When false the upload
	// fails with ErrExists instead.
	Upsert bool
}

// Store is the object store collaborator. Implementations wrap every
// failure with backup.ErrStorage.
type Store interface {
	List(ctx context.Context, prefix string, opts ListOptions) ([]Object, error)
	Upload(ctx context.Context, name string, body io.Reader, size int64, opts UploadOptions) error
	Download(ctx context.Context, name string) ([]byte, error)
	// Delete removes names in one batch. On partial failure it returns the
	// names that were removed alongside the error.
	Delete(ctx context.Context, names []string) ([]string, error)
	SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error)
}

// paginate sorts objs in place and applies offset and limit.
func paginate(objs []Object, opts ListOptions) []Object {
	slices.SortStableFunc(objs, func(a, b Object) int {
		var c int
		switch opts.SortBy {
		case SortByCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
			if c == 0 {
				c = strings.Compare(a.Name, b.Name)
			}
		default:
			c = strings.Compare(a.Name, b.Name)
		}
		if opts.Descending {
			return -c
		}
		return c
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(objs) {
			return []Object{}
		}
		objs = objs[opts.Offset:]
	}
	if opts.Limit > 0 && len(objs) > opts.Limit {
		objs = objs[:opts.Limit]
	}
	return objs
}
