package logstore

import (
	"os"
	"strings"

	"github.com/spf13/afero"
)

// measure returns the total size of regular files beneath |path|, or the
// size of |path| itself if it's a file.
func measure(fs afero.Fs, path string) (int64, error) {
	var total int64
	var err = afero.Walk(fs, path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		} else if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
