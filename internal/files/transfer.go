package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"file-server-go/internal/workspace"
)

const (
	// CopyBufferSize bounds the memory used per streamed transfer.
	CopyBufferSize = 32 << 10

	// maxNameAttempts caps the retries when a generated name is taken.
	maxNameAttempts = 32
)

// StoredFile describes a file written by Upload.
type StoredFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Upload streams r into a new file inside dir. The stored name is
// "<unix millis>-<name>"; an existing file is never overwritten. A failed
// transfer leaves no partial file behind.
func (s *Service) Upload(identity, dir, name string, r io.Reader) (StoredFile, error) {
	if err := workspace.ValidateName(name); err != nil {
		return StoredFile{}, &OpError{Op: "upload", Path: dir, Name: name, Err: err}
	}

	loc, err := s.resolveDir("upload", identity, dir)
	if err != nil {
		return StoredFile{}, err
	}

	stamp := s.now().UnixMilli()
	f, dst, err := s.createExclusive(identity, loc, func(attempt int) string {
		return fmt.Sprintf("%d-%s", stamp+int64(attempt), name)
	})
	if err != nil {
		return StoredFile{}, &OpError{Op: "upload", Path: loc.Virtual, Name: name, Err: err}
	}

	n, err := writeStream(f, r)
	if err != nil {
		return StoredFile{}, storageErr("upload", dst.Virtual, err)
	}

	s.notify(identity, Change{Type: ChangeUploaded, Path: dst.Virtual, Name: dst.Name(), Actor: identity})
	return StoredFile{Name: dst.Name(), Path: dst.Virtual, Size: n}, nil
}

// Share copies a regular file into the storage root of target. When the name
// is taken there the copy is stored as "<base>_<unix millis><ext>". Returns
// the name used in the target root.
func (s *Service) Share(ctx context.Context, identity, virtualPath, target string) (string, error) {
	src, err := s.resolver.Resolve(identity, virtualPath)
	if err != nil {
		return "", err
	}

	info, err := os.Lstat(src.Physical)
	if err != nil {
		return "", classify("share", src.Virtual, err)
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return "", opErr("share", src.Virtual, ErrUnsupported)
	}

	known, err := s.directory.Exists(ctx, target)
	if err != nil {
		return "", storageErr("share", src.Virtual, err)
	}
	if !known || !workspace.ValidIdentityName(target) {
		return "", &OpError{Op: "share", Path: src.Virtual, Name: target, Err: ErrUnknownTarget}
	}

	if _, err := s.resolver.EnsureRoot(target); err != nil {
		return "", storageErr("share", src.Virtual, err)
	}
	targetRoot, err := s.resolver.Resolve(target, "")
	if err != nil {
		return "", err
	}

	in, err := os.Open(src.Physical)
	if err != nil {
		return "", classify("share", src.Virtual, err)
	}
	defer in.Close()

	name := src.Name()
	base, ext := splitExt(name)
	stamp := s.now().UnixMilli()
	out, dst, err := s.createExclusive(target, targetRoot, func(attempt int) string {
		if attempt == 0 {
			return name
		}
		return fmt.Sprintf("%s_%d%s", base, stamp+int64(attempt-1), ext)
	})
	if err != nil {
		return "", &OpError{Op: "share", Path: src.Virtual, Name: target, Err: err}
	}

	if _, err := writeStream(out, &contextReader{ctx: ctx, r: in}); err != nil {
		return "", storageErr("share", src.Virtual, err)
	}

	s.notify(target, Change{Type: ChangeShared, Path: dst.Virtual, Name: dst.Name(), From: src.Virtual, Actor: identity})
	return dst.Name(), nil
}

// createExclusive creates a new file in dir using the first free name
// produced by candidate. O_EXCL guarantees an existing file is never reused.
// A candidate longer than workspace.MaxNameLength is rejected as invalid.
func (s *Service) createExclusive(identity string, dir workspace.Location, candidate func(attempt int) string) (*os.File, workspace.Location, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := candidate(attempt)
		if err := workspace.ValidateName(name); err != nil {
			return nil, workspace.Location{}, err
		}
		dst, err := s.resolver.Resolve(identity, dir.Child(name))
		if err != nil {
			return nil, workspace.Location{}, err
		}

		f, err := os.OpenFile(dst.Physical, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, dst, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return nil, workspace.Location{}, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil, workspace.Location{}, ErrConflict
}

// writeStream copies r into f in bounded chunks and closes f. On failure the
// partially written file is removed.
func writeStream(f *os.File, r io.Reader) (int64, error) {
	buf := make([]byte, CopyBufferSize)
	n, err := io.CopyBuffer(onlyWriter{f}, r, buf)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return 0, err
	}
	return n, nil
}

// onlyWriter hides os.File's ReadFrom so io.CopyBuffer uses our buffer.
type onlyWriter struct {
	w io.Writer
}

func (o onlyWriter) Write(p []byte) (int, error) {
	return o.w.Write(p)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// splitExt splits name into base and extension. Dotfiles such as ".env"
// have no extension.
func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		return name, ""
	}
	return base, ext
}
