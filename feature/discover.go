package feature

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultExtensions are the audio extensions searched when none are given.
var DefaultExtensions = []string{"wav", "flac"}

// Discover walks roots and returns every file whose name ends in one of
// extensions, sorted by absolute path.
func Discover(roots []string, extensions []string) ([]File, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make([]string, len(extensions))
	for i, e := range extensions {
		exts[i] = strings.TrimPrefix(e, ".")
	}
	pattern := "*." + exts[0]
	if len(exts) > 1 {
		pattern = "*.{" + strings.Join(exts, ",") + "}"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("feature: compile pattern %q: %w", pattern, err)
	}

	seen := make(map[string]struct{})
	var files []File
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !g.Match(d.Name()) {
				return nil
			}
			if _, dup := seen[p]; dup {
				return nil
			}
			seen[p] = struct{}{}
			rel, err := filepath.Rel(abs, p)
			if err != nil {
				return err
			}
			files = append(files, File{
				ID:   FileID(p),
				Path: p,
				Rel:  filepath.ToSlash(rel),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("feature: walk %s: %w", root, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// FileID returns the identifier of an audio file: its base name without extension.
func FileID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ReadSeqs reads a sequence list, one entry per line.
func ReadSeqs(r io.Reader) (map[string]struct{}, error) {
	seqs := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			seqs[s] = struct{}{}
		}
	}
	return seqs, sc.Err()
}

// FilterSeqFile keeps the files listed in the sequence file at path. An entry
// matches a file's relative path, absolute path or ID.
func FilterSeqFile(files []File, path string) ([]File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seqs, err := ReadSeqs(f)
	if err != nil {
		return nil, fmt.Errorf("feature: read %s: %w", path, err)
	}
	return Filter(files, seqs), nil
}

// Filter keeps the files present in seqs, preserving order.
func Filter(files []File, seqs map[string]struct{}) []File {
	var out []File
	for _, f := range files {
		_, rel := seqs[f.Rel]
		_, abs := seqs[f.Path]
		_, id := seqs[f.ID]
		if rel || abs || id {
			out = append(out, f)
		}
	}
	return out
}
