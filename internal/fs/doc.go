// Package fs provides the filesystem seam used for checkpoints and outputs.
//
//   - [FileSystem] abstracts the handful of operations the pipeline needs.
//   - [LocalFS] is the production implementation on top of package os.
//   - [FaultyFS] wraps another FileSystem and injects write, sync and rename
//     failures for crash-atomicity tests.
//   - [WriteFileAtomic] writes via temp file, fsync and rename so readers never
//     observe a partial file.
//   - [LockDir] takes an exclusive advisory lock on a directory.
//
// Production code should use fs.Default:
//
//	err := fs.WriteFileAtomic(fs.Default, path, func(w io.Writer) error { ... })
//
// Tests can inject [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("checkpoint_last", fs.Fault{FailOnSync: true})
package fs
