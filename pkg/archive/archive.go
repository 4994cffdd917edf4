// Package archive lays out crawled pages on disk.
//
// Every process invocation (a run) gets its own directory named after its
// start time. Each crawl cycle writes one file per page into it:
//
//	<root>/<run start>/<cycle start>-<page index>.json
//
// Timestamps use TimestampFormat, so two cycles starting in the same second
// write to the same names and the later one overwrites.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// TimestampFormat is used for run directories and file name prefixes.
const TimestampFormat = "2006-01-02-150405"

// FileExt is the extension of archived pages.
const FileExt = ".json"

// Run is the output location of one process invocation. It is immutable.
type Run struct {
	start time.Time
	dir   string
}

// NewRun creates <root>/<start formatted> including missing parents.
func NewRun(root string, start time.Time) (*Run, error) {
	dir := RunDir(root, start)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &Run{start: start, dir: dir}, nil
}

// RunDir returns the directory of a run started at start under root.
func RunDir(root string, start time.Time) string {
	return filepath.Join(root, start.Format(TimestampFormat))
}

// FileName returns the name of page index written by the cycle started at cycle.
func FileName(cycle time.Time, index int) string {
	return cycle.Format(TimestampFormat) + "-" + strconv.Itoa(index) + FileExt
}

// Start returns the run start time.
func (r *Run) Start() time.Time {
	return r.start
}

// Dir returns the run directory.
func (r *Run) Dir() string {
	return r.dir
}

// PagePath returns the full path of page index for the cycle started at cycle.
func (r *Run) PagePath(cycle time.Time, index int) string {
	return filepath.Join(r.dir, FileName(cycle, index))
}

// WritePage writes body verbatim to the page path, truncating an existing
// file, and returns the path written.
func (r *Run) WritePage(cycle time.Time, index int, body []byte) (string, error) {
	path := r.PagePath(cycle, index)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return path, fmt.Errorf("write page %d: %w", index, err)
	}
	return path, nil
}
