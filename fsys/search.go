package fsys

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/wippyai/qvm"
)

// SearchPath is an ordered list of sources. Earlier entries win.
type SearchPath struct {
	sources []qvm.Source
	closers []io.Closer
}

// Open builds a search path from entries. Entries ending in ".pk3" or ".zip"
// are pak archives, entries ending in ".db" are asset stores, anything else
// is a directory. Paks listed in pure are marked as official packages.
func Open(entries []string, pure ...string) (*SearchPath, error) {
	official := make(map[string]bool, len(pure))
	for _, p := range pure {
		official[filepath.Clean(p)] = true
	}

	sp := &SearchPath{}
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e)) {
		case ".pk3", ".zip":
			p, err := OpenPak(e, official[filepath.Clean(e)])
			if err != nil {
				sp.Close()
				return nil, err
			}
			sp.Add(p)
			sp.closers = append(sp.closers, p)
		case ".db":
			s, err := OpenStore(e, true)
			if err != nil {
				sp.Close()
				return nil, err
			}
			sp.Add(s)
			sp.closers = append(sp.closers, s)
		default:
			sp.Add(Dir(e))
		}
	}
	return sp, nil
}

// Add appends a source with the lowest priority.
func (sp *SearchPath) Add(s qvm.Source) {
	sp.sources = append(sp.sources, s)
}

// Sources returns the sources in priority order.
func (sp *SearchPath) Sources() []qvm.Source {
	return sp.sources
}

// ReadFile reads path from the first source that has it.
func (sp *SearchPath) ReadFile(path string) ([]byte, error) {
	for _, s := range sp.sources {
		data, err := s.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !IsNotExist(err) {
			return nil, err
		}
	}
	return nil, notFound("search path", path)
}

// Close closes every archive and store.
func (sp *SearchPath) Close() error {
	var first error
	for _, c := range sp.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	sp.closers = nil
	return first
}
