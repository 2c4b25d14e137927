package qvm

// FileSystem reads whole files by game-relative path.
// A missing file is reported with an error wrapping fs.ErrNotExist.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
}

// Source is one entry of the search path.
type Source interface {
	FileSystem
	// Name identifies the source in logs and diagnostics.
	Name() string
	// Pure reports whether the source is an official, unmodified package.
	// Restarts that disallow unpure content only read from pure sources.
	Pure() bool
}

// Arena allocates long-lived, zeroed memory for module data segments and tables.
type Arena interface {
	Alloc(size int, tag string) ([]byte, error)
	Used() int
	Remaining() int
}
