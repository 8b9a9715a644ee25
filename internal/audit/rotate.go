package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

// RotatingLog mirrors events to a plain JSON-lines file, rotating and
// brotli-compressing it once it crosses maxBytes. The SQLite Log remains the
// queryable store; this is the plain-text archive an operator can tail or
// ship off-box.
type RotatingLog struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	f        *os.File
	size     int64
	gen      int
}

// OpenRotating opens (creating if necessary) path for appending, rotating
// once its size exceeds maxBytes.
func OpenRotating(path string, maxBytes int64) (*RotatingLog, error) {
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open rotating log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: stat %s: %w", path, err)
	}
	return &RotatingLog{path: path, maxBytes: maxBytes, f: f, size: info.Size()}, nil
}

// Close closes the underlying file.
func (r *RotatingLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// Write appends e as a JSON line, then rotates if that write took the file
// past maxBytes.
func (r *RotatingLog) Write(e Event) error {
	if e.AtUnixMs == 0 {
		e.AtUnixMs = time.Now().UnixMilli()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.f.Write(line)
	r.size += int64(n)
	if err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	if r.size > r.maxBytes {
		if err := r.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// rotateLocked closes the current file, brotli-compresses it to a numbered
// archive, and reopens path empty. Caller holds r.mu.
func (r *RotatingLog) rotateLocked() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("audit: close before rotate: %w", err)
	}
	r.gen++
	archivePath := fmt.Sprintf("%s.%d.br", r.path, r.gen)
	if err := compressToBrotli(r.path, archivePath); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("audit: reopen after rotate: %w", err)
	}
	r.f = f
	r.size = 0
	return nil
}

func compressToBrotli(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("audit: open %s for rotation: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("audit: create archive %s: %w", dst, err)
	}
	defer out.Close()

	bw := brotli.NewWriterLevel(out, brotli.DefaultCompression)
	if _, err := io.Copy(bw, in); err != nil {
		bw.Close()
		return fmt.Errorf("audit: compress %s: %w", src, err)
	}
	return bw.Close()
}
