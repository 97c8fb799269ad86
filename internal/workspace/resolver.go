package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Location is a resolved virtual path.
type Location struct {
	// Root is the canonical storage root of the identity.
	Root string
	// Physical is the canonical absolute path; always Root or a descendant of it.
	Physical string
	// Virtual is the normalized virtual path, "" for the root.
	Virtual string
	// Segments are the validated path segments.
	Segments []string
}

// IsRoot reports whether the location addresses the storage root itself.
func (l Location) IsRoot() bool {
	return len(l.Segments) == 0
}

// Name returns the leaf name, "" for the root.
func (l Location) Name() string {
	if l.IsRoot() {
		return ""
	}
	return l.Segments[len(l.Segments)-1]
}

// Parent returns the virtual path of the containing directory.
func (l Location) Parent() string {
	if len(l.Segments) <= 1 {
		return ""
	}
	return strings.Join(l.Segments[:len(l.Segments)-1], "/")
}

// Child returns the virtual path of name inside this location.
func (l Location) Child(name string) string {
	if l.IsRoot() {
		return name
	}
	return l.Virtual + "/" + name
}

// Resolver maps (identity, virtual path) pairs to physical locations inside
// per-identity storage roots. Resolution never creates anything; EnsureRoot is
// the only operation with a side effect.
type Resolver struct {
	storageRoot string

	mu    sync.Mutex
	roots map[string]string
}

// NewResolver creates a resolver rooted at storageRoot. A relative
// storageRoot is made absolute against the current working directory.
func NewResolver(storageRoot string) *Resolver {
	if abs, err := filepath.Abs(storageRoot); err == nil {
		storageRoot = abs
	}
	return &Resolver{
		storageRoot: storageRoot,
		roots:       make(map[string]string),
	}
}

// StorageRoot returns the directory holding every identity root.
func (r *Resolver) StorageRoot() string {
	return r.storageRoot
}

var identityNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidIdentityName reports whether name can select a storage root.
func ValidIdentityName(name string) bool {
	return identityNameRegex.MatchString(name) && name != "." && name != ".."
}

// MaxNameLength is the longest path segment most filesystems accept.
const MaxNameLength = 255

// ValidateName checks that name is usable as a single path segment.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || len(name) > MaxNameLength {
		return &PathSecurityError{Op: "validate_name", Path: name, Wrapped: ErrInvalidPath}
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return &PathSecurityError{Op: "validate_name", Path: name, Wrapped: ErrInvalidPath}
	}
	return nil
}

// Normalize splits a virtual path into validated segments. Empty segments are
// dropped, so "", "/" and "//" all address the root.
func Normalize(virtualPath string) ([]string, error) {
	raw := strings.Split(virtualPath, "/")
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." || strings.ContainsAny(seg, "\\\x00") {
			return nil, &PathSecurityError{Op: "normalize", Path: virtualPath, Wrapped: ErrInvalidPath}
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// RootFor returns the lexical storage root of identity.
func (r *Resolver) RootFor(identity string) (string, error) {
	if !ValidIdentityName(identity) {
		return "", &PathSecurityError{Op: "root_for", Path: identity, Wrapped: ErrInvalidIdentity}
	}
	return filepath.Join(r.storageRoot, identity), nil
}

// EnsureRoot creates the storage root of identity if it is missing. Safe to
// call concurrently; creation happens at most once per identity per process.
func (r *Resolver) EnsureRoot(identity string) (string, error) {
	root, err := r.RootFor(identity)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if canonical, ok := r.roots[identity]; ok {
		if _, statErr := os.Stat(canonical); statErr == nil {
			return canonical, nil
		}
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("create storage root for %s: %w", identity, err)
	}

	canonical, err := r.checkRoot(identity, root)
	if err != nil {
		return "", err
	}
	r.roots[identity] = canonical
	return canonical, nil
}

// canonicalRoot returns the canonical root of identity without creating it.
func (r *Resolver) canonicalRoot(identity string) (string, error) {
	r.mu.Lock()
	cached, ok := r.roots[identity]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	root, err := r.RootFor(identity)
	if err != nil {
		return "", err
	}
	return r.checkRoot(identity, root)
}

// checkRoot canonicalizes root and rejects it unless it is a real directory
// directly under the canonical storage root.
func (r *Resolver) checkRoot(identity, root string) (string, error) {
	if info, err := os.Lstat(root); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", &PathSecurityError{Op: "check_root", Path: identity, Wrapped: ErrPathTraversal}
	}

	base, err := canonicalize(r.storageRoot)
	if err != nil {
		return "", &PathSecurityError{Op: "resolve_storage_root", Path: r.storageRoot, Wrapped: ErrInvalidPath}
	}

	canonical, err := canonicalize(root)
	if err != nil {
		return "", &PathSecurityError{Op: "resolve_root", Path: identity, Wrapped: ErrInvalidPath}
	}
	if canonical != filepath.Join(base, identity) {
		return "", &PathSecurityError{Op: "check_root", Path: identity, Wrapped: ErrPathTraversal}
	}
	return canonical, nil
}

// Resolve maps virtualPath inside identity's storage root. The result is
// guaranteed to lie inside the root and to contain no symlinked component
// among the parts that currently exist.
func (r *Resolver) Resolve(identity, virtualPath string) (Location, error) {
	segments, err := Normalize(virtualPath)
	if err != nil {
		return Location{}, err
	}

	root, err := r.canonicalRoot(identity)
	if err != nil {
		return Location{}, err
	}

	lexical := filepath.Join(append([]string{root}, segments...)...)
	if !isWithinBase(lexical, root) {
		return Location{}, &PathSecurityError{Op: "check_traversal", Path: virtualPath, Wrapped: ErrPathTraversal}
	}

	canonical, err := canonicalize(lexical)
	if err != nil {
		return Location{}, &PathSecurityError{Op: "resolve_symlink", Path: virtualPath, Wrapped: ErrPathTraversal}
	}
	if canonical != lexical || !isWithinBase(canonical, root) {
		return Location{}, &PathSecurityError{Op: "check_symlink", Path: virtualPath, Wrapped: ErrPathTraversal}
	}

	return Location{
		Root:     root,
		Physical: lexical,
		Virtual:  strings.Join(segments, "/"),
		Segments: segments,
	}, nil
}

// ResolveNonRoot resolves virtualPath and rejects the storage root itself.
func (r *Resolver) ResolveNonRoot(op, identity, virtualPath string) (Location, error) {
	loc, err := r.Resolve(identity, virtualPath)
	if err != nil {
		return Location{}, err
	}
	if loc.IsRoot() {
		return Location{}, &PathSecurityError{Op: op, Path: virtualPath, Wrapped: ErrRootOperation}
	}
	return loc, nil
}
