package topic

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const validTopicsYAML = `topics:
  - title: "Algebra"
    slug: "algebra"
  - title: "World History"
    slug: "world-history"
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	topics, err := LoadFromReader(strings.NewReader(validTopicsYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	want := []Topic{
		{Title: "Algebra", Slug: "algebra"},
		{Title: "World History", Slug: "world-history"},
	}
	if !reflect.DeepEqual(topics, want) {
		t.Errorf("topics = %#v, want %#v", topics, want)
	}
}

func TestLoadFromReader_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "topics:\n  - title: Algebra\n    slug: algebra\n    color: red\n",
			wantErr: "decode yaml",
		},
		{
			name:    "empty title",
			yaml:    "topics:\n  - title: \"\"\n    slug: algebra\n",
			wantErr: "title must not be empty",
		},
		{
			name:    "empty slug",
			yaml:    "topics:\n  - title: Algebra\n    slug: \"\"\n",
			wantErr: "slug must not be empty",
		},
		{
			name:    "slug with spaces",
			yaml:    "topics:\n  - title: Algebra\n    slug: \"alge bra\"\n",
			wantErr: "must be lowercase with no spaces or slashes",
		},
		{
			name:    "uppercase slug",
			yaml:    "topics:\n  - title: Algebra\n    slug: \"Algebra\"\n",
			wantErr: "must be lowercase with no spaces or slashes",
		},
		{
			name:    "duplicate slug",
			yaml:    "topics:\n  - title: Algebra\n    slug: algebra\n  - title: Algebra II\n    slug: algebra\n",
			wantErr: "duplicates",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()

	err := Validate([]Topic{
		{Title: "", Slug: "a"},
		{Title: "B", Slug: ""},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "topics[0]") || !strings.Contains(msg, "topics[1]") {
		t.Errorf("joined error %q should mention both topics", msg)
	}
}

func TestStore_ReplaceCopiesInput(t *testing.T) {
	t.Parallel()

	in := []Topic{{Title: "Algebra", Slug: "algebra"}}
	s := NewStore(in)
	in[0].Slug = "mutated"

	got := s.Topics()
	if got[0].Slug != "algebra" {
		t.Errorf("store observed caller mutation: slug = %q", got[0].Slug)
	}
}

func writeTopicsFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "topics.yaml")
	writeTopicsFile(t, path, validTopicsYAML)

	w, err := NewWatcher(path, nil, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Topics(); len(got) != 2 || got[0].Slug != "algebra" {
		t.Errorf("Topics() = %#v, want the initial file contents", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "topics.yaml")
	writeTopicsFile(t, path, "topics:\n  - title: Algebra\n    slug: \"NOT OK\"\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected an initial load error for an invalid file")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "topics.yaml")
	writeTopicsFile(t, path, validTopicsYAML)

	changed := make(chan []Topic, 1)
	w, err := NewWatcher(path, func(topics []Topic) {
		select {
		case changed <- topics:
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Force a different mtime as well as different content.
	time.Sleep(20 * time.Millisecond)
	writeTopicsFile(t, path, "topics:\n  - title: Chemistry\n    slug: chemistry\n")

	select {
	case topics := <-changed:
		if len(topics) != 1 || topics[0].Slug != "chemistry" {
			t.Errorf("onChange got %#v", topics)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onChange never fired after the file changed")
	}

	if got := w.Topics(); len(got) != 1 || got[0].Slug != "chemistry" {
		t.Errorf("Topics() = %#v after reload", got)
	}
}

func TestWatcher_KeepsPreviousListOnBadReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "topics.yaml")
	writeTopicsFile(t, path, validTopicsYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	writeTopicsFile(t, path, "topics: [not: valid")

	// Give the poller a few cycles to notice the broken file.
	time.Sleep(100 * time.Millisecond)

	if got := w.Topics(); len(got) != 2 {
		t.Errorf("Topics() = %#v, want the previous valid list preserved", got)
	}
}
