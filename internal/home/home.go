package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the ocrfuse home directory.
	DefaultDirName = ".ocrfuse"

	// RunsDirName is the subdirectory for fused run output.
	RunsDirName = "runs"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// SummaryName is the base name of a run's summary file.
	SummaryName = "summary"
)

// Dir represents the ocrfuse home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.ocrfuse).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// RunsPath returns the directory holding one subdirectory per run.
func (d *Dir) RunsPath() string {
	return filepath.Join(d.path, RunsDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.RunsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// RunLayout places one run's output under a root directory:
// {root}/{run_id}/page_{page_id}.{ext} and {root}/{run_id}/summary.{ext}.
type RunLayout struct {
	root  string
	runID string
}

// Run returns the layout for a run under the home runs directory.
func (d *Dir) Run(runID string) RunLayout {
	return NewRunLayout(d.RunsPath(), runID)
}

// NewRunLayout returns the layout for a run under an arbitrary root.
func NewRunLayout(root, runID string) RunLayout {
	return RunLayout{root: root, runID: runID}
}

// Dir returns the run directory.
func (l RunLayout) Dir() string {
	return filepath.Join(l.root, l.runID)
}

// Ensure creates the run directory.
func (l RunLayout) Ensure() error {
	return os.MkdirAll(l.Dir(), 0o755)
}

// PagePath returns the record path for a page. Path separators in the page
// id are replaced so every record stays inside the run directory.
func (l RunLayout) PagePath(pageID, ext string) string {
	return filepath.Join(l.Dir(), fmt.Sprintf("page_%s.%s", safeName(pageID), ext))
}

// SummaryPath returns the summary path.
func (l RunLayout) SummaryPath(ext string) string {
	return filepath.Join(l.Dir(), SummaryName+"."+ext)
}

var unsafeChars = strings.NewReplacer("/", "_", `\`, "_", "..", "_", ":", "_")

func safeName(s string) string {
	if s == "" {
		return "_"
	}
	return unsafeChars.Replace(s)
}
