package fsys

import (
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/errors"
)

// Pak is a zip archive (".pk3") on the search path. Entry names are matched
// case-insensitively.
type Pak struct {
	path  string
	pure  bool
	zr    *zip.ReadCloser
	index map[string]*zip.File
}

var _ qvm.Source = (*Pak)(nil)

// OpenPak opens a pak archive. pure marks it as an official package.
func OpenPak(path string, pure bool) (*Pak, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.New(errors.PhaseArchive, errors.KindInvalidData).
			Path(path).
			Detail("open pak").
			Cause(err).
			Build()
	}
	p := &Pak{path: path, pure: pure, zr: zr, index: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		p.index[strings.ToLower(f.Name)] = f
	}
	return p, nil
}

// Name returns the archive path.
func (p *Pak) Name() string { return p.path }

// Pure reports whether the pak is an official package.
func (p *Pak) Pure() bool { return p.pure }

// Files returns the number of entries in the archive.
func (p *Pak) Files() int { return len(p.index) }

// ReadFile reads an entry from the archive.
func (p *Pak) ReadFile(path string) ([]byte, error) {
	f, ok := p.index[strings.ToLower(path)]
	if !ok {
		if f, ok = p.index[strings.ToLower(path+ZstdSuffix)]; !ok {
			return nil, notFound(p.path, path)
		}
		data, err := p.read(f)
		if err != nil {
			return nil, err
		}
		return decompress(data)
	}
	return p.read(f)
}

func (p *Pak) read(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseArchive, errors.KindInvalidData, err, "open "+f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseArchive, errors.KindInvalidData, err, "read "+f.Name)
	}
	return data, nil
}

// Close releases the archive.
func (p *Pak) Close() error {
	return p.zr.Close()
}
