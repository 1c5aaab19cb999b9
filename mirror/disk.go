package mirror

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Rebuild returns a Node mirroring the directories and files beneath |root|.
// |visit|, if non-nil, is called with the base name of every file encountered.
// A missing |root| yields an empty Directory.
func Rebuild(fs afero.Fs, root string, visit func(name string)) (*Node, error) {
	var out = NewDirectory()

	if ok, err := afero.DirExists(fs, root); err != nil {
		return nil, errors.Wrapf(err, "stat %s", root)
	} else if !ok {
		return out, nil
	}

	var err = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		} else if path == root {
			return nil
		}
		var rel, relErr = filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		var segments = splitPath(rel)

		if info.IsDir() {
			out.InsertDir(segments...)
		} else {
			out.Insert(segments...)
			if visit != nil {
				visit(info.Name())
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", root)
	}
	return out, nil
}

// ReadLive returns a one-level projection of directory |dir| read directly
// from |fs|. Child Directories are not expanded.
func ReadLive(fs afero.Fs, dir string) (*Node, error) {
	var infos, err = afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var out = NewDirectory()

	for _, info := range infos {
		if info.IsDir() {
			out.Children[info.Name()] = &Node{Kind: Directory}
		} else {
			out.Children[info.Name()] = newLeaf()
		}
	}
	return out, nil
}

func splitPath(rel string) []string {
	return strings.Split(rel, string(filepath.Separator))
}
