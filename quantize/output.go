package quantize

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	ifs "github.com/hupe1980/speechunit/internal/fs"
)

// OutputConflictError reports an existing output file when resume is off.
type OutputConflictError struct {
	Path string
}

func (e *OutputConflictError) Error() string {
	return fmt.Sprintf("output file %s already exists; enable resume to continue quantizing", e.Path)
}

// Output is an append-only quantized output file. Lines are separated by
// "\n" and the file never starts with a newline. Not safe for concurrent use.
type Output struct {
	path        string
	f           ifs.File
	w           *bufio.Writer
	needNewline bool
	existing    map[string]struct{}
}

// OpenOutput opens path for appending. An existing file is an
// *OutputConflictError unless resume is set, in which case the IDs it already
// holds are loaded.
func OpenOutput(fsys ifs.FileSystem, path string, resume bool) (*Output, error) {
	if fsys == nil {
		fsys = ifs.Default
	}
	out := &Output{path: path, existing: make(map[string]struct{})}

	data, err := ifs.ReadFile(fsys, path)
	switch {
	case err == nil:
		if !resume {
			return nil, &OutputConflictError{Path: path}
		}
		for _, line := range strings.Split(string(data), "\n") {
			if fields := strings.Fields(line); len(fields) > 0 {
				out.existing[fields[0]] = struct{}{}
			}
		}
		out.needNewline = len(data) > 0 && !strings.HasSuffix(string(data), "\n")
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	out.f = f
	out.w = bufio.NewWriter(f)
	return out, nil
}

// Path returns the file path.
func (o *Output) Path() string { return o.path }

// Has reports whether id was present when the file was opened or has been written since.
func (o *Output) Has(id string) bool {
	_, ok := o.existing[id]
	return ok
}

// Existing returns the number of known IDs.
func (o *Output) Existing() int { return len(o.existing) }

// Write appends "{id}\t{line}".
func (o *Output) Write(id, line string) error {
	if o.needNewline {
		if err := o.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if _, err := o.w.WriteString(id + "\t" + line); err != nil {
		return err
	}
	o.needNewline = true
	o.existing[id] = struct{}{}
	return nil
}

// Flush writes buffered lines to the file.
func (o *Output) Flush() error { return o.w.Flush() }

// Close flushes, syncs and closes the file. Later calls are no-ops.
func (o *Output) Close() error {
	if o.f == nil {
		return nil
	}
	defer func() { o.f = nil }()
	err := o.w.Flush()
	if serr := o.f.Sync(); err == nil {
		err = serr
	}
	if cerr := o.f.Close(); err == nil {
		err = cerr
	}
	return err
}
