package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kebairia/tenantbackup/internal/backup"
)

// Memory is an in-process Store used by tests and dry runs. Its fault
// fields make individual calls fail.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject
	calls   int

	// Now stamps uploads. Defaults to time.Now.
	Now func() time.Time

	ListErr     error
	UploadErr   error
	DownloadErr error
	// DeleteErrs fails the delete of individual names.
	DeleteErrs map[string]error
}

type memObject struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

// Put stores data directly with an explicit creation time. It does not
// count as a call.
func (m *Memory) Put(name string, data []byte, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = memObject{data: bytes.Clone(data), createdAt: createdAt}
}

// Has reports whether name is stored.
func (m *Memory) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok
}

// Names returns every stored name.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for n := range m.objects {
		names = append(names, n)
	}
	return names
}

// Calls returns how many Store methods have been invoked.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Memory) List(ctx context.Context, prefix string, opts ListOptions) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.ListErr != nil {
		return nil, fmt.Errorf("%w: list %q: %v", backup.ErrStorage, prefix, m.ListErr)
	}
	objs := make([]Object, 0, len(m.objects))
	for name, o := range m.objects {
		if strings.HasPrefix(name, prefix) {
			objs = append(objs, Object{Name: name, CreatedAt: o.createdAt, Size: int64(len(o.data))})
		}
	}
	return paginate(objs, opts), nil
}

func (m *Memory) Upload(ctx context.Context, name string, body io.Reader, size int64, opts UploadOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: upload %q: %v", backup.ErrStorage, name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.UploadErr != nil {
		return fmt.Errorf("%w: upload %q: %v", backup.ErrStorage, name, m.UploadErr)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("%w: upload %q: got %d bytes, declared %d", backup.ErrStorage, name, len(data), size)
	}
	if _, ok := m.objects[name]; ok && !opts.Upsert {
		return fmt.Errorf("%w: upload %q: %w", backup.ErrStorage, name, ErrExists)
	}
	m.objects[name] = memObject{data: data, contentType: opts.ContentType, createdAt: m.now()}
	return nil
}

func (m *Memory) Download(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.DownloadErr != nil {
		return nil, fmt.Errorf("%w: download %q: %v", backup.ErrStorage, name, m.DownloadErr)
	}
	o, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: download %q: %w", backup.ErrStorage, name, ErrNotFound)
	}
	return bytes.Clone(o.data), nil
}

func (m *Memory) Delete(ctx context.Context, names []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var (
		deleted []string
		failed  []string
	)
	for _, n := range names {
		if err := m.DeleteErrs[n]; err != nil {
			failed = append(failed, n)
			continue
		}
		delete(m.objects, n)
		deleted = append(deleted, n)
	}
	if len(failed) > 0 {
		return deleted, fmt.Errorf("%w: delete failed for %d of %d objects: %s",
			backup.ErrStorage, len(failed), len(names), strings.Join(failed, ", "))
	}
	return deleted, nil
}

func (m *Memory) SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if _, ok := m.objects[name]; !ok {
		return "", fmt.Errorf("%w: sign %q: %w", backup.ErrStorage, name, ErrNotFound)
	}
	expires := m.now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s?expires=%d", url.PathEscape(name), expires), nil
}
