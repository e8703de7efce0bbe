package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/speechunit/blobstore"
	"github.com/hupe1980/speechunit/codec"
	"github.com/hupe1980/speechunit/internal/blockcodec"
	ifs "github.com/hupe1980/speechunit/internal/fs"
)

const (
	// LastName is the file name of the most recent checkpoint.
	LastName = "checkpoint_last.bin"
	// ArgsName is the training configuration snapshot written next to checkpoints.
	ArgsName = "checkpoint_args.json"

	numberedPrefix = "checkpoint_"
	ext            = ".bin"
)

// NumberedName returns the file name of the checkpoint for iteration iter.
func NumberedName(iter int) string {
	return numberedPrefix + strconv.Itoa(iter) + ext
}

// parseNumbered extracts the iteration of a numbered checkpoint name.
func parseNumbered(name string) (int, bool) {
	if !strings.HasPrefix(name, numberedPrefix) || !strings.HasSuffix(name, ext) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, numberedPrefix), ext))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Options configures a Manager.
type Options struct {
	// FileSystem is used for local files. Defaults to the OS file system.
	FileSystem ifs.FileSystem
	// Codec encodes the metadata section. Defaults to codec.Default.
	Codec codec.Codec
	// Compression is applied to the centroid payload.
	Compression blockcodec.Type
	// SaveLast is the number of numbered checkpoints to keep. Values < 1 keep all.
	SaveLast int
	// Mirror receives a copy of every checkpoint. Optional.
	Mirror blobstore.Store
	// MirrorPrefix is prepended to mirrored names.
	MirrorPrefix string
	// Logger receives mirror failures. Optional.
	Logger *slog.Logger
}

// Manager writes, prunes and loads the checkpoints of one save directory.
// It is used by a single controlling goroutine.
type Manager struct {
	dir  string
	opts Options
}

// NewManager creates a manager for dir.
func NewManager(dir string, optFns ...func(*Options)) *Manager {
	opts := Options{
		FileSystem: ifs.Default,
		Codec:      codec.Default,
		SaveLast:   5,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{dir: dir, opts: opts}
}

// Dir returns the save directory.
func (m *Manager) Dir() string { return m.dir }

// LastPath returns the path of checkpoint_last.bin.
func (m *Manager) LastPath() string { return filepath.Join(m.dir, LastName) }

// SaveResult describes one Save call.
type SaveResult struct {
	LastPath string
	Bytes    int
	// Removed lists the iterations pruned by retention.
	Removed []int
	// MirrorErr is the first mirror failure, if any. Local files are intact.
	MirrorErr error
}

// Save writes ck as checkpoint_last.bin and checkpoint_{iter}.bin, then prunes
// numbered checkpoints with iteration <= ck.Iteration - SaveLast.
func (m *Manager) Save(ctx context.Context, ck *Checkpoint) (*SaveResult, error) {
	data, err := Marshal(ck, EncodeOptions{Codec: m.opts.Codec, Compression: m.opts.Compression})
	if err != nil {
		return nil, err
	}

	fsys := m.opts.FileSystem
	if err := fsys.MkdirAll(m.dir, 0o755); err != nil {
		return nil, err
	}

	write := func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
	if err := ifs.WriteFileAtomic(fsys, m.LastPath(), write); err != nil {
		return nil, fmt.Errorf("write %s: %w", LastName, err)
	}
	numbered := NumberedName(ck.Iteration)
	if err := ifs.WriteFileAtomic(fsys, filepath.Join(m.dir, numbered), write); err != nil {
		return nil, fmt.Errorf("write %s: %w", numbered, err)
	}

	res := &SaveResult{LastPath: m.LastPath(), Bytes: len(data)}

	removed, err := m.prune(ck.Iteration)
	if err != nil {
		return nil, err
	}
	res.Removed = removed

	if m.opts.Mirror != nil {
		res.MirrorErr = m.mirror(ctx, numbered, data, removed)
		if res.MirrorErr != nil && m.opts.Logger != nil {
			m.opts.Logger.Warn("checkpoint mirror failed", "iteration", ck.Iteration, "error", res.MirrorErr)
		}
	}
	return res, nil
}

// prune deletes local numbered checkpoints outside the retention window.
func (m *Manager) prune(iter int) ([]int, error) {
	if m.opts.SaveLast < 1 {
		return nil, nil
	}
	iters, err := m.Iterations()
	if err != nil {
		return nil, err
	}
	cutoff := iter - m.opts.SaveLast
	var removed []int
	for _, n := range iters {
		if n > cutoff {
			break
		}
		err := m.opts.FileSystem.Remove(filepath.Join(m.dir, NumberedName(n)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, n)
	}
	return removed, nil
}

func (m *Manager) mirrorName(name string) string {
	if m.opts.MirrorPrefix == "" {
		return name
	}
	return path.Join(m.opts.MirrorPrefix, name)
}

func (m *Manager) mirror(ctx context.Context, numbered string, data []byte, removed []int) error {
	for _, name := range []string{numbered, LastName} {
		if err := m.opts.Mirror.Put(ctx, m.mirrorName(name), data); err != nil {
			return fmt.Errorf("mirror %s: %w", name, err)
		}
	}
	for _, n := range removed {
		if err := m.opts.Mirror.Delete(ctx, m.mirrorName(NumberedName(n))); err != nil {
			return fmt.Errorf("mirror delete %s: %w", NumberedName(n), err)
		}
	}
	return nil
}

// Iterations returns the iterations of the numbered checkpoints on disk, ascending.
func (m *Manager) Iterations() ([]int, error) {
	entries, err := m.opts.FileSystem.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var iters []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := parseNumbered(e.Name()); ok {
			iters = append(iters, n)
		}
	}
	sort.Ints(iters)
	return iters, nil
}

// LoadLast loads checkpoint_last.bin from the save directory, falling back to
// the mirror. It returns ErrNoCheckpoint when neither has one.
func (m *Manager) LoadLast(ctx context.Context) (*Checkpoint, string, error) {
	p := m.LastPath()
	ck, err := m.Load(p)
	if err == nil {
		return ck, p, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, p, err
	}
	if m.opts.Mirror == nil {
		return nil, p, ErrNoCheckpoint
	}

	name := m.mirrorName(LastName)
	data, err := m.opts.Mirror.Get(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, name, ErrNoCheckpoint
		}
		return nil, name, fmt.Errorf("mirror get %s: %w", name, err)
	}
	ck, err = Unmarshal(data)
	if err != nil {
		var ce *CorruptError
		if errors.As(err, &ce) {
			ce.Path = name
		}
		return nil, name, err
	}
	if m.opts.Logger != nil {
		m.opts.Logger.Info("restored checkpoint from mirror", "name", name, "iteration", ck.Iteration)
	}
	return ck, name, nil
}

// Load reads a checkpoint file through the manager's file system.
func (m *Manager) Load(p string) (*Checkpoint, error) {
	return load(m.opts.FileSystem, p)
}

// LoadFile reads a checkpoint file from the local file system.
func LoadFile(p string) (*Checkpoint, error) {
	return load(ifs.Default, p)
}

func load(fsys ifs.FileSystem, p string) (*Checkpoint, error) {
	data, err := ifs.ReadFile(fsys, p)
	if err != nil {
		return nil, err
	}
	ck, err := Unmarshal(data)
	if err != nil {
		var ce *CorruptError
		if errors.As(err, &ce) {
			ce.Path = p
		}
		return nil, err
	}
	return ck, nil
}

// ArgsCandidates returns the paths where the training arguments of the
// checkpoint at ckptPath may live, in lookup order: "<ckpt>_args.json" next to
// the checkpoint, then checkpoint_args.json in the same directory.
func ArgsCandidates(ckptPath string) []string {
	base := strings.TrimSuffix(ckptPath, filepath.Ext(ckptPath))
	return []string{
		base + "_args.json",
		filepath.Join(filepath.Dir(ckptPath), ArgsName),
	}
}

// FindArgs returns the first existing path of ArgsCandidates.
func FindArgs(ckptPath string) (string, bool) {
	for _, p := range ArgsCandidates(ckptPath) {
		if ok, _ := ifs.Exists(ifs.Default, p); ok {
			return p, true
		}
	}
	return "", false
}
