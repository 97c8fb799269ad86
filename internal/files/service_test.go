package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"file-server-go/internal/workspace"
)

type staticDirectory struct {
	names []string
	err   error
}

func (d staticDirectory) Exists(_ context.Context, name string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	for _, n := range d.names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (d staticDirectory) Names(_ context.Context) ([]string, error) {
	return d.names, d.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes map[string][]Change
}

func (n *recordingNotifier) Notify(identity string, change Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.changes == nil {
		n.changes = make(map[string][]Change)
	}
	n.changes[identity] = append(n.changes[identity], change)
}

func (n *recordingNotifier) For(identity string) []Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Change(nil), n.changes[identity]...)
}

type testEnv struct {
	svc      *Service
	storage  string
	notifier *recordingNotifier
	clock    time.Time
}

func newTestEnv(t *testing.T, identities ...string) *testEnv {
	t.Helper()
	storage := filepath.Join(t.TempDir(), "user_files")
	require.NoError(t, os.MkdirAll(storage, 0755))
	realStorage, err := filepath.EvalSymlinks(storage)
	require.NoError(t, err)

	if len(identities) == 0 {
		identities = []string{"alice", "bob"}
	}

	env := &testEnv{
		storage:  realStorage,
		notifier: &recordingNotifier{},
		clock:    time.UnixMilli(1700000000000),
	}
	env.svc = NewService(workspace.NewResolver(realStorage), staticDirectory{names: identities}, env.notifier)
	env.svc.now = func() time.Time { return env.clock }
	return env
}

func (e *testEnv) physical(identity string, parts ...string) string {
	return filepath.Join(append([]string{e.storage, identity}, parts...)...)
}

func (e *testEnv) writeFile(t *testing.T, identity, rel, content string) {
	t.Helper()
	p := e.physical(identity, strings.Split(rel, "/")...)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func (e *testEnv) readFile(t *testing.T, identity, rel string) string {
	t.Helper()
	data, err := os.ReadFile(e.physical(identity, strings.Split(rel, "/")...))
	require.NoError(t, err)
	return string(data)
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestList_CreatesRootAndSortsEntries(t *testing.T) {
	env := newTestEnv(t)

	entries, err := env.svc.List("alice", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.DirExists(t, env.physical("alice"))

	env.writeFile(t, "alice", "zeta.txt", "z")
	env.writeFile(t, "alice", "alpha.txt", "abc")
	require.NoError(t, os.MkdirAll(env.physical("alice", "middle"), 0755))

	entries, err = env.svc.List("alice", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha.txt", "middle", "zeta.txt"}, names(entries))
	assert.Equal(t, "alpha.txt", entries[0].Path)
	assert.Equal(t, int64(3), entries[0].Size)
	assert.True(t, entries[1].IsDirectory)
}

func TestList_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "file.txt", "x")

	_, err := env.svc.List("alice", "missing")
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = env.svc.List("alice", "file.txt")
	assert.Equal(t, KindNotADirectory, KindOf(err))

	_, err = env.svc.List("alice", "../bob")
	assert.Equal(t, KindInvalidPath, KindOf(err))
}

func TestList_SkipsSymlinks(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "real.txt", "x")
	if err := os.Symlink("/etc", env.physical("alice", "etc")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	entries, err := env.svc.List("alice", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"real.txt"}, names(entries))
}

func TestMkdir_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.svc.Mkdir("alice", "/docs"))
	entries, err := env.svc.List("alice", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "docs", entries[0].Name)
	assert.True(t, entries[0].IsDirectory)

	// Missing ancestors are created.
	require.NoError(t, env.svc.Mkdir("alice", "a/b/c"))
	assert.DirExists(t, env.physical("alice", "a", "b", "c"))

	err = env.svc.Mkdir("alice", "/docs")
	assert.Equal(t, KindAlreadyExists, KindOf(err))

	env.writeFile(t, "alice", "file.txt", "x")
	err = env.svc.Mkdir("alice", "file.txt/sub")
	assert.Equal(t, KindNotADirectory, KindOf(err))

	err = env.svc.Mkdir("alice", "")
	assert.Equal(t, KindInvalidPath, KindOf(err))
}

func TestMkdir_ConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.List("alice", "")
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		exists  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.svc.Mkdir("alice", "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case KindOf(err) == KindAlreadyExists:
				exists++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, exists)
}

func TestUpload_StoresUniqueName(t *testing.T) {
	env := newTestEnv(t)

	stored, err := env.svc.Upload("alice", "", "report.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-report.txt", stored.Name)
	assert.Equal(t, "1700000000000-report.txt", stored.Path)
	assert.Equal(t, int64(5), stored.Size)
	assert.Equal(t, "hello", env.readFile(t, "alice", stored.Name))

	// Same millisecond: the next free stamp is used, the first file is untouched.
	again, err := env.svc.Upload("alice", "/", "report.txt", strings.NewReader("second"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000001-report.txt", again.Name)
	assert.Equal(t, "hello", env.readFile(t, "alice", stored.Name))
}

func TestUpload_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "file.txt", "x")

	_, err := env.svc.Upload("alice", "missing", "a.txt", strings.NewReader("x"))
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = env.svc.Upload("alice", "file.txt", "a.txt", strings.NewReader("x"))
	assert.Equal(t, KindNotADirectory, KindOf(err))

	for _, bad := range []string{"", "..", "a/b", "a\\b"} {
		_, err = env.svc.Upload("alice", "", bad, strings.NewReader("x"))
		assert.Equal(t, KindInvalidPath, KindOf(err), "name %q", bad)
	}
}

func TestUpload_RejectsOverlongStoredName(t *testing.T) {
	env := newTestEnv(t)

	// The "<millis>-" prefix pushes a 250 byte name past the segment limit.
	_, err := env.svc.Upload("alice", "", strings.Repeat("n", 250), strings.NewReader("x"))
	assert.Equal(t, KindInvalidPath, KindOf(err))

	_, err = env.svc.Upload("alice", "", strings.Repeat("n", workspace.MaxNameLength+1), strings.NewReader("x"))
	assert.Equal(t, KindInvalidPath, KindOf(err))

	entries, err := env.svc.List("alice", "")
	require.NoError(t, err)
	assert.Empty(t, entries)

	stored, err := env.svc.Upload("alice", "", strings.Repeat("n", 200), strings.NewReader("x"))
	require.NoError(t, err)
	assert.Len(t, stored.Name, 214)
}

type failingReader struct {
	data []byte
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestUpload_AbortRemovesPartialFile(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Upload("alice", "", "big.bin", &failingReader{data: bytes.Repeat([]byte("x"), 1024)})
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))

	entries, err := env.svc.List("alice", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpen(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "docs/a.txt", "content")

	dl, err := env.svc.Open("alice", "/docs/a.txt")
	require.NoError(t, err)
	defer dl.Close()
	assert.Equal(t, "a.txt", dl.Name)
	assert.Equal(t, int64(7), dl.Size)
	data, err := io.ReadAll(dl.File)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	_, err = env.svc.Open("alice", "docs")
	assert.Equal(t, KindIsADirectory, KindOf(err))

	_, err = env.svc.Open("alice", "docs/missing.txt")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDelete_Recursive(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "tree/a/b/c.txt", "c")
	env.writeFile(t, "alice", "tree/d.txt", "d")
	env.writeFile(t, "alice", "keep.txt", "k")

	require.NoError(t, env.svc.Delete("alice", "tree"))
	assert.NoDirExists(t, env.physical("alice", "tree"))

	require.NoError(t, env.svc.Delete("alice", "keep.txt"))
	assert.NoFileExists(t, env.physical("alice", "keep.txt"))

	err := env.svc.Delete("alice", "keep.txt")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDelete_RejectsRoot(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", "a")

	for _, p := range []string{"", "/", "//"} {
		err := env.svc.Delete("alice", p)
		assert.Equal(t, KindInvalidPath, KindOf(err), "path %q", p)
	}
	assert.DirExists(t, env.physical("alice"))
}

func TestRename_PreservesContent(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "docs/a.txt", "payload")

	require.NoError(t, env.svc.Rename("alice", "docs/a.txt", "b.txt"))
	assert.NoFileExists(t, env.physical("alice", "docs", "a.txt"))
	assert.Equal(t, "payload", env.readFile(t, "alice", "docs/b.txt"))

	changes := env.notifier.For("alice")
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Equal(t, ChangeRenamed, last.Type)
	assert.Equal(t, "docs/b.txt", last.Path)
	assert.Equal(t, "docs/a.txt", last.From)
}

func TestRename_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", "a")
	env.writeFile(t, "alice", "b.txt", "b")

	err := env.svc.Rename("alice", "a.txt", "b.txt")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "a", env.readFile(t, "alice", "a.txt"))
	assert.Equal(t, "b", env.readFile(t, "alice", "b.txt"))

	for _, bad := range []string{"", ".", "..", "x/y", "..\\x"} {
		err = env.svc.Rename("alice", "a.txt", bad)
		assert.Equal(t, KindInvalidPath, KindOf(err), "name %q", bad)
	}

	err = env.svc.Rename("alice", "missing.txt", "c.txt")
	assert.Equal(t, KindNotFound, KindOf(err))

	err = env.svc.Rename("alice", "", "c")
	assert.Equal(t, KindInvalidPath, KindOf(err))
}

func TestRename_NameLengthLimit(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", "a")

	err := env.svc.Rename("alice", "a.txt", strings.Repeat("r", workspace.MaxNameLength+1))
	assert.Equal(t, KindInvalidPath, KindOf(err))
	assert.Equal(t, "a", env.readFile(t, "alice", "a.txt"))

	longest := strings.Repeat("r", workspace.MaxNameLength)
	require.NoError(t, env.svc.Rename("alice", "a.txt", longest))
	assert.Equal(t, "a", env.readFile(t, "alice", longest))
}

func TestMove_ChangesParent(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", "a")
	require.NoError(t, os.MkdirAll(env.physical("alice", "docs"), 0755))

	require.NoError(t, env.svc.Move("alice", "a.txt", "docs"))

	root, err := env.svc.List("alice", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, names(root))

	docs, err := env.svc.List("alice", "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names(docs))
	assert.Equal(t, "docs/a.txt", docs[0].Path)

	// And back to the root.
	require.NoError(t, env.svc.Move("alice", "docs/a.txt", ""))
	assert.Equal(t, "a", env.readFile(t, "alice", "a.txt"))
}

func TestMove_NoOverwrite(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", "source")
	env.writeFile(t, "alice", "docs/a.txt", "existing")

	err := env.svc.Move("alice", "a.txt", "docs")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "source", env.readFile(t, "alice", "a.txt"))
	assert.Equal(t, "existing", env.readFile(t, "alice", "docs/a.txt"))
}

func TestMove_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "dir/sub/x.txt", "x")
	env.writeFile(t, "alice", "file.txt", "f")

	err := env.svc.Move("alice", "dir", "dir/sub")
	assert.Equal(t, KindInvalidPath, KindOf(err))

	err = env.svc.Move("alice", "dir", "dir")
	assert.Equal(t, KindInvalidPath, KindOf(err))

	err = env.svc.Move("alice", "file.txt", "file.txt")
	assert.Equal(t, KindNotADirectory, KindOf(err))

	err = env.svc.Move("alice", "file.txt", "nowhere")
	assert.Equal(t, KindNotFound, KindOf(err))

	err = env.svc.Move("alice", "ghost.txt", "dir")
	assert.Equal(t, KindNotFound, KindOf(err))

	err = env.svc.Move("alice", "", "dir")
	assert.Equal(t, KindInvalidPath, KindOf(err))

	err = env.svc.Move("alice", "file.txt", "../bob")
	assert.Equal(t, KindInvalidPath, KindOf(err))
}

func TestShare_CopiesIntoTargetRoot(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "docs/report.txt", "quarterly")

	storedAs, err := env.svc.Share(context.Background(), "alice", "docs/report.txt", "bob")
	require.NoError(t, err)
	assert.Equal(t, "report.txt", storedAs)
	assert.Equal(t, "quarterly", env.readFile(t, "bob", "report.txt"))
	assert.Equal(t, "quarterly", env.readFile(t, "alice", "docs/report.txt"))

	changes := env.notifier.For("bob")
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeShared, changes[0].Type)
	assert.Equal(t, "alice", changes[0].Actor)
}

func TestShare_NeverClobbers(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "report.txt", "from alice")
	env.writeFile(t, "bob", "report.txt", "bob's own")

	storedAs, err := env.svc.Share(context.Background(), "alice", "report.txt", "bob")
	require.NoError(t, err)
	assert.Equal(t, "report_1700000000000.txt", storedAs)
	assert.Equal(t, "bob's own", env.readFile(t, "bob", "report.txt"))
	assert.Equal(t, "from alice", env.readFile(t, "bob", storedAs))

	// A second share in the same millisecond picks the next stamp.
	storedAs, err = env.svc.Share(context.Background(), "alice", "report.txt", "bob")
	require.NoError(t, err)
	assert.Equal(t, "report_1700000000001.txt", storedAs)
}

func TestShare_DotfileSuffix(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", ".env", "A=1")
	env.writeFile(t, "bob", ".env", "B=2")

	storedAs, err := env.svc.Share(context.Background(), "alice", ".env", "bob")
	require.NoError(t, err)
	assert.Equal(t, ".env_1700000000000", storedAs)
}

func TestShare_RejectsDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "folder/a.txt", "a")

	_, err := env.svc.Share(context.Background(), "alice", "folder", "bob")
	assert.Equal(t, KindUnsupported, KindOf(err))
	assert.NoDirExists(t, env.physical("bob"))
}

func TestShare_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", "a")

	_, err := env.svc.Share(context.Background(), "alice", "a.txt", "mallory")
	assert.Equal(t, KindUnknownTarget, KindOf(err))
	assert.NoDirExists(t, env.physical("mallory"))

	_, err = env.svc.Share(context.Background(), "alice", "missing.txt", "bob")
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = env.svc.Share(context.Background(), "alice", "../bob/x", "bob")
	assert.Equal(t, KindInvalidPath, KindOf(err))
}

func TestShare_SelfShareKeepsOriginal(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", "a")

	storedAs, err := env.svc.Share(context.Background(), "alice", "a.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "a_1700000000000.txt", storedAs)
	assert.Equal(t, "a", env.readFile(t, "alice", "a.txt"))
}

func TestShare_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", strings.Repeat("x", 4096))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Share(ctx, "alice", "a.txt", "bob")
	assert.Equal(t, KindStorage, KindOf(err))

	entries, err := env.svc.List("bob", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShareCandidates_ExcludesCaller(t *testing.T) {
	env := newTestEnv(t, "carol", "alice", "bob")

	got, err := env.svc.ShareCandidates(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, got)
}

func TestContainment_NoOperationEscapesRoot(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "bob", "secret.txt", "bob secret")
	env.writeFile(t, "alice", "a.txt", "a")

	paths := []string{"/../bob/secret.txt", "../../etc/passwd", "docs/../../bob", "..", "./a.txt"}
	for _, p := range paths {
		_, err := env.svc.List("alice", p)
		assert.Contains(t, []Kind{KindInvalidPath, KindTraversal}, KindOf(err), "list %q", p)

		_, err = env.svc.Open("alice", p)
		assert.Contains(t, []Kind{KindInvalidPath, KindTraversal}, KindOf(err), "open %q", p)

		err = env.svc.Delete("alice", p)
		assert.Contains(t, []Kind{KindInvalidPath, KindTraversal}, KindOf(err), "delete %q", p)

		err = env.svc.Mkdir("alice", p)
		assert.Contains(t, []Kind{KindInvalidPath, KindTraversal}, KindOf(err), "mkdir %q", p)
	}
	assert.Equal(t, "bob secret", env.readFile(t, "bob", "secret.txt"))
}

func TestContainment_SymlinkEscapeRejected(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "bob", "secret.txt", "bob secret")
	env.writeFile(t, "alice", "a.txt", "a")
	if err := os.Symlink(env.physical("bob"), env.physical("alice", "bobs")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := env.svc.Open("alice", "bobs/secret.txt")
	assert.Equal(t, KindTraversal, KindOf(err))

	_, err = env.svc.Upload("alice", "bobs", "x.txt", strings.NewReader("x"))
	assert.Equal(t, KindTraversal, KindOf(err))

	err = env.svc.Move("alice", "a.txt", "bobs")
	assert.Equal(t, KindTraversal, KindOf(err))

	_, err = env.svc.Share(context.Background(), "alice", "bobs/secret.txt", "alice")
	assert.Equal(t, KindTraversal, KindOf(err))
}

func TestShare_TargetRootSymlinkRejected(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "a.txt", "alice data")

	outside := t.TempDir()
	if err := os.Symlink(outside, env.physical("bob")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := env.svc.Share(context.Background(), "alice", "a.txt", "bob")
	assert.Equal(t, KindTraversal, KindOf(err))

	leaked, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, leaked)

	// A second attempt must not pick up a cached outside root either.
	_, err = env.svc.Share(context.Background(), "alice", "a.txt", "bob")
	assert.Equal(t, KindTraversal, KindOf(err))
	_, err = env.svc.List("bob", "")
	assert.Equal(t, KindTraversal, KindOf(err))
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "alice", "docs/q1/report.pdf", "1")
	env.writeFile(t, "alice", "docs/q2/report.pdf", "2")
	env.writeFile(t, "alice", "docs/notes.txt", "n")
	env.writeFile(t, "alice", "photo.png", "p")

	entries, err := env.svc.Search(context.Background(), "alice", "", "**/*.pdf")
	require.NoError(t, err)
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"docs/q1/report.pdf", "docs/q2/report.pdf"}, paths)

	// Bare name patterns match at any depth; results are relative to the root.
	entries, err = env.svc.Search(context.Background(), "alice", "docs", "notes.*")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "docs/notes.txt", entries[0].Path)

	_, err = env.svc.Search(context.Background(), "alice", "", "[")
	assert.Equal(t, KindInvalidPath, KindOf(err))

	_, err = env.svc.Search(context.Background(), "alice", "photo.png", "*")
	assert.Equal(t, KindNotADirectory, KindOf(err))
}

// TestScenario_AliceAndBob walks the end-to-end flow of two identities
// sharing a document.
func TestScenario_AliceAndBob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Mkdir("alice", "/docs"))
	stored, err := env.svc.Upload("alice", "/docs", "report.txt", strings.NewReader("Q3 numbers"))
	require.NoError(t, err)
	require.NoError(t, env.svc.Rename("alice", stored.Path, "report.txt"))

	storedAs, err := env.svc.Share(ctx, "alice", "/docs/report.txt", "bob")
	require.NoError(t, err)
	assert.Equal(t, "report.txt", storedAs)

	bobEntries, err := env.svc.List("bob", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"report.txt"}, names(bobEntries))

	// Bob's copy is independent of Alice's original.
	require.NoError(t, env.svc.Delete("bob", "report.txt"))
	assert.Equal(t, "Q3 numbers", env.readFile(t, "alice", "docs/report.txt"))

	_, err = env.svc.Open("bob", "/../alice/docs/report.txt")
	assert.Contains(t, []Kind{KindInvalidPath, KindTraversal}, KindOf(err))
}
