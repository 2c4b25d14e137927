package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/qvm/errors"
	"github.com/wippyai/qvm/fsys"
	"github.com/wippyai/qvm/image"
)

// runPack stores files in an asset store under their path relative to
// -root. Directories are walked. Images are validated before they are stored.
func runPack(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("pack", flag.ContinueOnError)
	output := flags.String("o", "assets.db", "Asset store to write")
	root := flags.String("root", ".", "Directory game paths are relative to")
	list := flags.Bool("list", false, "List the store's contents and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	store, err := fsys.OpenStore(*output, false)
	if err != nil {
		return err
	}
	defer store.Close()

	if *list {
		names, err := store.List()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	if flags.NArg() == 0 {
		return errors.InvalidInput(errors.PhaseArchive, "pack: no files given")
	}
	for _, arg := range flags.Args() {
		err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			return packFile(store, *root, path, out)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func packFile(store *fsys.Store, root, path string, out io.Writer) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	name := filepath.ToSlash(rel)
	if name == ".." || strings.HasPrefix(name, "../") {
		return errors.InvalidInput(errors.PhaseArchive, fmt.Sprintf("%s is outside %s", path, root))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(name, ".qvm") {
		h, err := image.Decode(name, data)
		if err != nil {
			return err
		}
		if err := h.Validate(name, len(data)); err != nil {
			return err
		}
	}

	if err := store.Put(name, data); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %d bytes\n", name, len(data))
	return nil
}
