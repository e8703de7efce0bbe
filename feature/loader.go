package feature

// File is one discovered audio file.
type File struct {
	ID   string // base name without extension
	Path string // absolute path
	Rel  string // slash-separated path relative to its discovery root
}

// Loader yields a fixed sequence of batches. Batch(i) must return the same
// files every time it is called.
type Loader interface {
	Len() int
	Batch(i int) Batch
}

// FileLoader groups a file list into consecutive batches of at most
// batchSize files.
type FileLoader struct {
	files []File
	size  int
}

// NewFileLoader returns a loader over files. A batchSize < 1 is treated as 1.
func NewFileLoader(files []File, batchSize int) *FileLoader {
	return &FileLoader{files: files, size: max(batchSize, 1)}
}

// Len returns the number of batches.
func (l *FileLoader) Len() int {
	return (len(l.files) + l.size - 1) / l.size
}

// Batch returns batch i.
func (l *FileLoader) Batch(i int) Batch {
	start := i * l.size
	end := min(start+l.size, len(l.files))
	b := Batch{
		IDs:   make([]string, 0, end-start),
		Paths: make([]string, 0, end-start),
	}
	for _, f := range l.files[start:end] {
		b.IDs = append(b.IDs, f.ID)
		b.Paths = append(b.Paths, f.Path)
	}
	return b
}

// Files returns the underlying file list.
func (l *FileLoader) Files() []File { return l.files }
