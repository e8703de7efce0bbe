package quantize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/speechunit/feature"
)

// Split selects part Index of Count (1-based) of a file list.
// The zero Split selects everything.
type Split struct {
	Index int
	Count int
}

// ParseSplit parses "idx-num" with num >= idx >= 1. The empty string yields
// the zero Split.
func ParseSplit(s string) (Split, error) {
	if s == "" {
		return Split{}, nil
	}
	a, b, ok := strings.Cut(s, "-")
	idx, err1 := strconv.Atoi(a)
	num, err2 := strconv.Atoi(b)
	if !ok || err1 != nil || err2 != nil || idx < 1 || num < idx {
		return Split{}, fmt.Errorf("quantize: split must be idxSplit-numSplits with numSplits >= idxSplit >= 1, got %q", s)
	}
	return Split{Index: idx, Count: num}, nil
}

// Enabled reports whether s selects a part.
func (s Split) Enabled() bool { return s.Count > 0 }

func (s Split) String() string {
	if !s.Enabled() {
		return ""
	}
	return fmt.Sprintf("%d-%d", s.Index, s.Count)
}

// Range returns the [start, end) indexes selected from n files. Every split
// has n/Count files; the last one also takes the remainder.
func (s Split) Range(n int) (int, int) {
	if !s.Enabled() {
		return 0, n
	}
	per := n / s.Count
	start := per * (s.Index - 1)
	if s.Index == s.Count {
		return start, n
	}
	return start, min(per*s.Index, n)
}

// Select returns the files of split s.
func (s Split) Select(files []feature.File) []feature.File {
	start, end := s.Range(len(files))
	return files[start:end]
}

// OutputName returns the output file name for split s.
func OutputName(s Split) string {
	if !s.Enabled() {
		return "quantized_outputs.txt"
	}
	return fmt.Sprintf("quantized_outputs_split_%d-%d.txt", s.Index, s.Count)
}
