package diff

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"ctxlink/internal/backends/git"
	"ctxlink/internal/testutil"
)

type fakeDiffer struct {
	restricted map[string]string // keyed by first path
	full       string
	fullErr    error
	untracked  []string
	newDiffs   map[string]string
	calls      [][]string
}

func (f *fakeDiffer) Diff(_ context.Context, paths []string) (string, error) {
	f.calls = append(f.calls, paths)
	if len(paths) == 0 {
		return f.full, f.fullErr
	}
	return f.restricted[paths[0]], nil
}

func (f *fakeDiffer) DiffNew(_ context.Context, path string) (string, error) {
	return f.newDiffs[path], nil
}

func (f *fakeDiffer) UntrackedFiles(_ context.Context, paths []string) ([]string, error) {
	return f.untracked, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const aPyDiff = `diff --git a/a.py b/a.py
--- a/a.py
+++ b/a.py
@@ -1,0 +1,3 @@
+x
+y
+z
`

func TestResolve_Restricted(t *testing.T) {
	d := &fakeDiffer{restricted: map[string]string{"a.py": aPyDiff}}
	res := NewResolver(d, discardLogger()).Resolve(context.Background(), []string{"./a.py", "a.py"})

	if res.Source != SourceRestricted {
		t.Errorf("Source = %s, want restricted", res.Source)
	}
	want := []FileRanges{{Path: "a.py", Ranges: []LineRange{{1, 3}}}}
	if !reflect.DeepEqual(res.Files, want) {
		t.Errorf("Files = %+v, want %+v", res.Files, want)
	}
	if len(d.calls) != 1 || !reflect.DeepEqual(d.calls[0], []string{"a.py"}) {
		t.Errorf("Diff calls = %v, want one restricted call with deduplicated candidates", d.calls)
	}
}

func TestResolve_EmptyRestrictedFallsBackToFull(t *testing.T) {
	d := &fakeDiffer{
		restricted: map[string]string{},
		full:       aPyDiff,
	}
	res := NewResolver(d, discardLogger()).Resolve(context.Background(), []string{"b.py"})

	if res.Source != SourceFull {
		t.Errorf("Source = %s, want full", res.Source)
	}
	if len(res.Files) != 1 || res.Files[0].Path != "a.py" {
		t.Errorf("Files = %+v", res.Files)
	}
}

func TestResolve_NoCandidatesUsesFullDiff(t *testing.T) {
	d := &fakeDiffer{full: aPyDiff}
	res := NewResolver(d, discardLogger()).Resolve(context.Background(), nil)

	if res.Source != SourceFull {
		t.Errorf("Source = %s, want full", res.Source)
	}
	if len(d.calls) != 1 || len(d.calls[0]) != 0 {
		t.Errorf("Diff calls = %v, want a single unrestricted call", d.calls)
	}
}

func TestResolve_WholeFileFallback(t *testing.T) {
	d := &fakeDiffer{fullErr: errors.New("git exploded")}
	res := NewResolver(d, discardLogger()).Resolve(context.Background(), []string{"b.py", "a.py"})

	if res.Source != SourceFallback {
		t.Errorf("Source = %s, want fallback", res.Source)
	}
	want := []FileRanges{
		{Path: "b.py", Ranges: []LineRange{{1, 1}}},
		{Path: "a.py", Ranges: []LineRange{{1, 1}}},
	}
	if !reflect.DeepEqual(res.Files, want) {
		t.Errorf("Files = %+v, want %+v", res.Files, want)
	}
}

func TestResolve_NothingAtAll(t *testing.T) {
	res := NewResolver(&fakeDiffer{}, discardLogger()).Resolve(context.Background(), nil)
	if res.Source != SourceNone || len(res.Files) != 0 {
		t.Errorf("Resolve = %+v, want empty", res)
	}
}

func TestResolve_HeaderlessHunkGoesToSingleCandidate(t *testing.T) {
	d := &fakeDiffer{restricted: map[string]string{"a.py": "@@ -1,0 +1,3 @@\n+x\n+y\n+z\n"}}
	res := NewResolver(d, discardLogger()).Resolve(context.Background(), []string{"a.py"})

	want := []FileRanges{{Path: "a.py", Ranges: []LineRange{{1, 3}}}}
	if !reflect.DeepEqual(res.Files, want) {
		t.Errorf("Files = %+v, want %+v", res.Files, want)
	}
}

func TestResolve_UntrackedCandidate(t *testing.T) {
	d := &fakeDiffer{
		restricted: map[string]string{},
		untracked:  []string{"new.py"},
		newDiffs: map[string]string{
			"new.py": "diff --git a/new.py b/new.py\nnew file mode 100644\n--- /dev/null\n+++ b/new.py\n@@ -0,0 +1,4 @@\n+1\n+2\n+3\n+4\n",
		},
		full: aPyDiff,
	}
	res := NewResolver(d, discardLogger()).Resolve(context.Background(), []string{"new.py"})

	if res.Source != SourceRestricted {
		t.Errorf("Source = %s, want restricted", res.Source)
	}
	want := []FileRanges{{Path: "new.py", Ranges: []LineRange{{1, 4}}}}
	if !reflect.DeepEqual(res.Files, want) {
		t.Errorf("Files = %+v, want %+v", res.Files, want)
	}
}

func TestResolve_GitRepository(t *testing.T) {
	root := testutil.NewGitRepoWithCommit(t)
	testutil.WriteFile(t, root, "src/app.go", "package app\n\nfunc A() {}\n")
	testutil.Git(t, root, "add", ".")
	testutil.Git(t, root, "commit", "-q", "-m", "app")

	testutil.WriteFile(t, root, "src/app.go", "package app\n\nfunc A() {}\n\nfunc B() {}\n")
	testutil.WriteFile(t, root, "src/extra.go", "package app\n")

	adapter, err := git.NewAdapter(root, 10*time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewAdapter failed: %v", err)
	}

	res := NewResolver(adapter, discardLogger()).Resolve(context.Background(), []string{"src/app.go", "src/extra.go"})
	if res.Source != SourceRestricted {
		t.Fatalf("Source = %s, want restricted", res.Source)
	}
	want := []FileRanges{
		{Path: "src/app.go", Ranges: []LineRange{{4, 5}}},
		{Path: "src/extra.go", Ranges: []LineRange{{1, 1}}},
	}
	if !reflect.DeepEqual(res.Files, want) {
		t.Errorf("Files = %+v, want %+v", res.Files, want)
	}
}
