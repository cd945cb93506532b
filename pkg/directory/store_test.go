package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreLoadCreatesMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "groups.json")
	store := NewFileStore(path)

	directory, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if directory.Len() != 0 {
		t.Fatalf("len = %d, want 0", directory.Len())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read created file: %v", err)
	}
	if string(data) != "{}" {
		t.Fatalf("created file = %q, want {}", data)
	}
}

func TestFileStoreSaveFormatAndRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "groups.json")
	store := NewFileStore(path)
	ctx := context.Background()

	directory := New(map[string][]string{
		"ops": nil,
		"eng": {"U1", "U2"},
	})
	if err := store.Save(ctx, directory); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	want := "{\n  \"eng\": [\n    \"U1\",\n    \"U2\"\n  ],\n  \"ops\": []\n}"
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(first) != want {
		t.Fatalf("saved file =\n%s\nwant\n%s", first, want)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read resaved file: %v", err)
	}
	if string(second) != string(first) {
		t.Fatalf("save(load()) changed bytes:\n%s\nvs\n%s", second, first)
	}
}

func TestFileStoreRoundTripKeepsExistingBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "html characters", content: "{\n  \"eng\": [\n    \"a<b\",\n    \"c&d>\"\n  ]\n}"},
		{name: "non ascii", content: "{\n  \"équipe\": [\n    \"U1\"\n  ]\n}"},
		{name: "empty group", content: "{\n  \"ops\": []\n}"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "groups.json")
			if err := os.WriteFile(path, []byte(testCase.content), 0o644); err != nil {
				t.Fatalf("write fixture: %v", err)
			}
			store := NewFileStore(path)
			ctx := context.Background()

			loaded, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if err := store.Save(ctx, loaded); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			after, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read saved file: %v", err)
			}
			if string(after) != testCase.content {
				t.Fatalf("save(load()) =\n%s\nwant\n%s", after, testCase.content)
			}
		})
	}
}

func TestFileStoreLoadCorrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: ""},
		{name: "truncated", content: `{"eng": ["U1"`},
		{name: "trailing garbage", content: `{"eng": ["U1"]} x`},
		{name: "top level null", content: `null`},
		{name: "top level array", content: `["U1"]`},
		{name: "null members", content: `{"eng": null}`},
		{name: "object members", content: `{"eng": {"U1": true}}`},
		{name: "null member", content: `{"eng": [null]}`},
		{name: "null member among ids", content: `{"eng": [null, "U1"]}`},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "groups.json")
			if err := os.WriteFile(path, []byte(testCase.content), 0o644); err != nil {
				t.Fatalf("write fixture: %v", err)
			}

			_, err := NewFileStore(path).Load(context.Background())
			if !errors.Is(err, ErrStoreCorrupt) {
				t.Fatalf("Load error = %v, want ErrStoreCorrupt", err)
			}

			after, readErr := os.ReadFile(path)
			if readErr != nil {
				t.Fatalf("read fixture: %v", readErr)
			}
			if string(after) != testCase.content {
				t.Fatalf("corrupt file was rewritten to %q", after)
			}
		})
	}
}

func TestFileStoreErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	_, err := NewFileStore(root).Load(context.Background())
	if !errors.Is(err, ErrStoreReadFailed) {
		t.Fatalf("Load(directory path) error = %v, want ErrStoreReadFailed", err)
	}

	missingParent := filepath.Join(root, "missing", "groups.json")
	err = NewFileStore(missingParent).Save(context.Background(), Directory{})
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Fatalf("Save error = %v, want ErrStoreWriteFailed", err)
	}
	_, err = NewFileStore(missingParent).Load(context.Background())
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Fatalf("Load error = %v, want ErrStoreWriteFailed", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewFileStore(filepath.Join(root, "groups.json")).Save(canceled, Directory{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Save(canceled) error = %v, want context.Canceled", err)
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := map[string]error{
		"":        nil,
		"corrupt": ErrStoreCorrupt,
		"read":    ErrStoreReadFailed,
		"write":   ErrStoreWriteFailed,
		"other":   errors.New("x"),
	}
	for want, err := range tests {
		if got := ErrorKind(err); got != want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
