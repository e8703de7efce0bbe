package clustering

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	ifs "github.com/hupe1980/speechunit/internal/fs"
)

// RunLogName is the append-only progress log in the save directory.
const RunLogName = "training_logs.txt"

// runLog appends progress lines to training_logs.txt. A nil runLog discards.
type runLog struct {
	f ifs.File
}

func openRunLog(fsys ifs.FileSystem, dir string) (*runLog, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := fsys.OpenFile(filepath.Join(dir, RunLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("clustering: open run log: %w", err)
	}
	return &runLog{f: f}, nil
}

func (l *runLog) printf(format string, args ...any) error {
	if l == nil {
		return nil
	}
	_, err := fmt.Fprintf(l.f, format+"\n", args...)
	return err
}

func (l *runLog) iteration(iter int, d time.Duration, items int64, lastDiff float64) error {
	return l.printf("ITER %d done in %.2f seconds. nItems: %d. Difference with last checkpoint: %v",
		iter, d.Seconds(), items, lastDiff)
}

func (l *runLog) saving(path string) error {
	return l.printf("Saving last checkpoint to %s", path)
}

func (l *runLog) Close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}
