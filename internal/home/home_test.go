package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-ocrfuse")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-ocrfuse" {
			t.Errorf("expected path /tmp/test-ocrfuse, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-ocrfuse")

	t.Run("RunsPath", func(t *testing.T) {
		expected := "/tmp/test-ocrfuse/runs"
		if dir.RunsPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.RunsPath())
		}
	})

	t.Run("ConfigPath", func(t *testing.T) {
		expected := "/tmp/test-ocrfuse/config.yaml"
		if dir.ConfigPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ConfigPath())
		}
	})

	t.Run("Run", func(t *testing.T) {
		run := dir.Run("r1")
		if got := run.PagePath("p7", "yaml"); got != "/tmp/test-ocrfuse/runs/r1/page_p7.yaml" {
			t.Errorf("PagePath = %s", got)
		}
		if got := run.SummaryPath("json"); got != "/tmp/test-ocrfuse/runs/r1/summary.json" {
			t.Errorf("SummaryPath = %s", got)
		}
	})
}

func TestRunLayout_PagePathStaysInRunDir(t *testing.T) {
	run := NewRunLayout("/out", "r1")
	for _, id := range []string{"../../etc/passwd", "a/b", `c:\d`, ""} {
		got := run.PagePath(id, "json")
		if filepath.Dir(got) != "/out/r1" {
			t.Errorf("PagePath(%q) = %s escapes run dir", id, got)
		}
	}
}

func TestDir_EnsureExists(t *testing.T) {
	tmpDir := t.TempDir()
	ocrfuseDir := filepath.Join(tmpDir, "ocrfuse-test")

	dir, err := New(ocrfuseDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("expected directory to not exist initially")
	}
	if dir.ConfigExists() {
		t.Error("expected config to not exist initially")
	}

	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !dir.Exists() {
		t.Error("expected directory to exist after EnsureExists")
	}
	if _, err := os.Stat(dir.RunsPath()); os.IsNotExist(err) {
		t.Error("expected runs directory to exist")
	}

	run := dir.Run("r2")
	if err := run.Ensure(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(run.Dir()); err != nil {
		t.Errorf("run dir missing: %v", err)
	}
}
