package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoopFileSourceCyclesInOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	contents := map[string]string{
		"0001.jpg": "frame-one",
		"0002.jpg": "frame-two",
	}
	for name, data := range contents {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src, err := NewLoopFileSource(dir, 1000) // fast cadence for a short test
	if err != nil {
		t.Fatalf("NewLoopFileSource: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := src.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	second, err := src.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	third, err := src.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}

	if string(first) != "frame-one" || string(second) != "frame-two" || string(third) != "frame-one" {
		t.Errorf("got %q, %q, %q, want frame-one, frame-two, frame-one (looped)", first, second, third)
	}
}

func TestNewLoopFileSourceRejectsEmptyDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := NewLoopFileSource(dir, 30); err == nil {
		t.Fatal("expected an error for a directory with no .jpg files")
	}
}
