// Package fsys provides the search path sources modules are loaded from:
// plain directories, pak archives (zip, ".pk3") and bolt asset stores.
package fsys

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/errors"
)

// ZstdSuffix marks a zstd-compressed variant of an asset.
const ZstdSuffix = ".zst"

func notFound(source, path string) error {
	return errors.New(errors.PhaseArchive, errors.KindNotFound).
		Path(source, path).
		Detail("file not found").
		Cause(fs.ErrNotExist).
		Build()
}

// IsNotExist reports whether err means the file is absent from a source.
func IsNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist)
}

// Dir is a directory on disk. Directories are never pure.
type Dir string

var _ qvm.Source = Dir("")

// Name returns the directory path.
func (d Dir) Name() string { return string(d) }

// Pure reports false: loose files can be modified freely.
func (d Dir) Pure() bool { return false }

// ReadFile reads path relative to the directory. If the file is absent but a
// zstd-compressed variant exists, the variant is decompressed.
func (d Dir) ReadFile(path string) ([]byte, error) {
	full := filepath.Join(string(d), filepath.FromSlash(path))
	data, err := os.ReadFile(full)
	if err == nil {
		return data, nil
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(errors.PhaseArchive, errors.KindInvalidData, err, "read "+full)
	}

	packed, err := os.ReadFile(full + ZstdSuffix)
	if err != nil {
		return nil, notFound(string(d), path)
	}
	return decompress(packed)
}

func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseArchive, errors.KindInvalidData, err, "zstd decode")
	}
	return out, nil
}

func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}
