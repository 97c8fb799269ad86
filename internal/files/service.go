package files

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"file-server-go/internal/workspace"
)

// Entry describes one item of a directory listing.
type Entry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDirectory bool      `json:"isDirectory"`
	Size        int64     `json:"size,omitempty"`
	ModTime     time.Time `json:"modTime"`
}

// Directory answers which identities exist. Implemented by identity.Store.
type Directory interface {
	Exists(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
}

// ChangeType names a tree mutation.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeUploaded ChangeType = "uploaded"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
	ChangeMoved    ChangeType = "moved"
	ChangeShared   ChangeType = "shared"
)

// Change is published after a successful mutation.
type Change struct {
	Type  ChangeType `json:"type"`
	Path  string     `json:"path"`
	Name  string     `json:"name,omitempty"`
	From  string     `json:"from,omitempty"`
	Actor string     `json:"actor,omitempty"`
}

// Notifier receives changes for an identity's tree.
type Notifier interface {
	Notify(identity string, change Change)
}

// Service performs file-tree operations inside per-identity storage roots.
// Every path goes through the resolver before storage is touched.
type Service struct {
	resolver  *workspace.Resolver
	directory Directory
	notifier  Notifier
	now       func() time.Time
}

// NewService creates a file service. notifier may be nil.
func NewService(resolver *workspace.Resolver, directory Directory, notifier Notifier) *Service {
	return &Service{
		resolver:  resolver,
		directory: directory,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Resolver returns the path resolver used by the service.
func (s *Service) Resolver() *workspace.Resolver {
	return s.resolver
}

func (s *Service) notify(identity string, change Change) {
	if s.notifier != nil {
		s.notifier.Notify(identity, change)
	}
}

// List returns the entries of a directory sorted by name. Symlinks are not
// listed. Listing the root creates it when missing.
func (s *Service) List(identity, virtualPath string) ([]Entry, error) {
	loc, err := s.resolveDir("list", identity, virtualPath)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(loc.Physical)
	if err != nil {
		return nil, classify("list", loc.Virtual, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if d.Type()&fs.ModeSymlink != 0 {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, newEntry(loc.Child(d.Name()), info))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func newEntry(virtualPath string, info fs.FileInfo) Entry {
	e := Entry{
		Name:        info.Name(),
		Path:        virtualPath,
		IsDirectory: info.IsDir(),
		ModTime:     info.ModTime(),
	}
	if !info.IsDir() {
		e.Size = info.Size()
	}
	return e
}

// resolveDir resolves virtualPath and checks that it is an existing directory.
// The storage root is created on demand.
func (s *Service) resolveDir(op, identity, virtualPath string) (workspace.Location, error) {
	loc, err := s.resolver.Resolve(identity, virtualPath)
	if err != nil {
		return workspace.Location{}, err
	}
	if loc.IsRoot() {
		if _, err := s.resolver.EnsureRoot(identity); err != nil {
			return workspace.Location{}, storageErr(op, loc.Virtual, err)
		}
		return loc, nil
	}

	info, err := os.Stat(loc.Physical)
	if err != nil {
		return workspace.Location{}, classify(op, loc.Virtual, err)
	}
	if !info.IsDir() {
		return workspace.Location{}, opErr(op, loc.Virtual, ErrNotADirectory)
	}
	return loc, nil
}

// Mkdir creates a directory and any missing ancestors. The directory itself
// must not exist yet.
func (s *Service) Mkdir(identity, virtualPath string) error {
	loc, err := s.resolver.ResolveNonRoot("mkdir", identity, virtualPath)
	if err != nil {
		return err
	}
	if _, err := s.resolver.EnsureRoot(identity); err != nil {
		return storageErr("mkdir", loc.Virtual, err)
	}

	if _, err := os.Lstat(loc.Physical); err == nil {
		return opErr("mkdir", loc.Virtual, ErrAlreadyExists)
	}

	if err := os.MkdirAll(filepath.Dir(loc.Physical), 0755); err != nil {
		return classify("mkdir", loc.Virtual, err)
	}
	// Plain Mkdir fails with EEXIST when a concurrent request won the race.
	if err := os.Mkdir(loc.Physical, 0755); err != nil {
		return classify("mkdir", loc.Virtual, err)
	}

	s.notify(identity, Change{Type: ChangeCreated, Path: loc.Virtual, Name: loc.Name(), Actor: identity})
	return nil
}

// Download is an open file ready for streaming. The caller must Close it.
type Download struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	File    *os.File
}

// Close releases the underlying file.
func (d *Download) Close() error {
	return d.File.Close()
}

// Open opens a regular file for download.
func (s *Service) Open(identity, virtualPath string) (*Download, error) {
	loc, err := s.resolver.Resolve(identity, virtualPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(loc.Physical)
	if err != nil {
		return nil, classify("download", loc.Virtual, err)
	}
	if info.IsDir() {
		return nil, opErr("download", loc.Virtual, ErrIsADirectory)
	}

	f, err := os.Open(loc.Physical)
	if err != nil {
		return nil, classify("download", loc.Virtual, err)
	}

	return &Download{
		Name:    loc.Name(),
		Path:    loc.Virtual,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		File:    f,
	}, nil
}

// Delete removes a file, or a directory with all of its contents.
func (s *Service) Delete(identity, virtualPath string) error {
	loc, err := s.resolver.ResolveNonRoot("delete", identity, virtualPath)
	if err != nil {
		return err
	}

	info, err := os.Lstat(loc.Physical)
	if err != nil {
		return classify("delete", loc.Virtual, err)
	}

	if info.IsDir() {
		err = os.RemoveAll(loc.Physical)
	} else {
		err = os.Remove(loc.Physical)
	}
	if err != nil {
		return classify("delete", loc.Virtual, err)
	}

	s.notify(identity, Change{Type: ChangeDeleted, Path: loc.Virtual, Name: loc.Name(), Actor: identity})
	return nil
}

// Rename gives an entry a new name inside the same directory. An existing
// sibling with that name is never replaced.
func (s *Service) Rename(identity, virtualPath, newName string) error {
	if err := workspace.ValidateName(newName); err != nil {
		return &OpError{Op: "rename", Path: virtualPath, Name: newName, Err: err}
	}

	src, err := s.resolver.ResolveNonRoot("rename", identity, virtualPath)
	if err != nil {
		return err
	}
	dst, err := s.resolver.Resolve(identity, joinVirtual(src.Parent(), newName))
	if err != nil {
		return err
	}

	if _, err := os.Lstat(src.Physical); err != nil {
		return classify("rename", src.Virtual, err)
	}

	if err := s.relocate("rename", src, dst); err != nil {
		return err
	}

	s.notify(identity, Change{Type: ChangeRenamed, Path: dst.Virtual, Name: newName, From: src.Virtual, Actor: identity})
	return nil
}

// Move relocates an entry into another directory, keeping its name.
func (s *Service) Move(identity, virtualPath, targetDir string) error {
	src, err := s.resolver.ResolveNonRoot("move", identity, virtualPath)
	if err != nil {
		return err
	}
	dir, err := s.resolver.Resolve(identity, targetDir)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(src.Physical); err != nil {
		return classify("move", src.Virtual, err)
	}

	info, err := os.Stat(dir.Physical)
	if err != nil {
		return classify("move", dir.Virtual, err)
	}
	if !info.IsDir() {
		return opErr("move", dir.Virtual, ErrNotADirectory)
	}

	if dir.Physical == src.Physical || isDescendant(dir.Physical, src.Physical) {
		return &OpError{Op: "move", Path: src.Virtual, Name: dir.Virtual, Err: workspace.ErrInvalidPath}
	}

	dst, err := s.resolver.Resolve(identity, dir.Child(src.Name()))
	if err != nil {
		return err
	}

	if err := s.relocate("move", src, dst); err != nil {
		return err
	}

	s.notify(identity, Change{Type: ChangeMoved, Path: dst.Virtual, Name: dst.Name(), From: src.Virtual, Actor: identity})
	return nil
}

// relocate renames src to dst without ever replacing an existing entry.
func (s *Service) relocate(op string, src, dst workspace.Location) error {
	if _, err := os.Lstat(dst.Physical); err == nil {
		return &OpError{Op: op, Path: src.Virtual, Name: dst.Virtual, Err: ErrConflict}
	}

	if err := renameNoReplace(src.Physical, dst.Physical); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &OpError{Op: op, Path: src.Virtual, Name: dst.Virtual, Err: ErrConflict}
		}
		return classify(op, src.Virtual, err)
	}
	return nil
}

// ShareCandidates lists every identity name except the caller's.
func (s *Service) ShareCandidates(ctx context.Context, identity string) ([]string, error) {
	names, err := s.directory.Names(ctx)
	if err != nil {
		return nil, storageErr("share_candidates", "", err)
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if name != identity {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func joinVirtual(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func isDescendant(path, ancestor string) bool {
	return strings.HasPrefix(path, ancestor+string(filepath.Separator))
}
