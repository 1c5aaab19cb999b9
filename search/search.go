// Package search finds occurrences of a query within stored log files.
package search

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Result maps a log file name (relative to the searched directory, with
// forward slashes) to the 1-based line numbers of that file which matched,
// and from there to the byte offsets of each match within the line.
type Result map[string]map[int][]int

// Searcher searches the log files beneath a directory.
type Searcher interface {
	Search(ctx context.Context, dir, query string) (Result, error)
}

// Scanner is a Searcher which reads every file beneath the directory,
// matching |query| as a literal, case-sensitive substring.
type Scanner struct {
	Fs afero.Fs
	// PageSize is the read buffer size used while scanning a file.
	PageSize int
}

const (
	defaultPageSize = 64 << 10
	maxLineSize     = 4 << 20
)

// Search implements Searcher. Files without matches are omitted, as are
// files removed while the search runs. An empty |query| matches nothing.
func (s Scanner) Search(ctx context.Context, dir, query string) (Result, error) {
	var out = make(Result)
	if query == "" {
		return out, nil
	}

	var err = afero.Walk(s.Fs, dir, func(path string, info os.FileInfo, err error) error {
		if os.IsNotExist(err) && path != dir {
			return nil // Removed while the walk was underway.
		} else if err != nil {
			return err
		} else if info.IsDir() {
			return nil
		} else if err = ctx.Err(); err != nil {
			return err
		}
		var rel, relErr = filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		lines, err := s.scanFile(path, query)
		if os.IsNotExist(err) {
			return nil
		} else if err != nil {
			return errors.Wrapf(err, "scanning %s", path)
		} else if len(lines) != 0 {
			out[filepath.ToSlash(rel)] = lines
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s Scanner) scanFile(path, query string) (map[int][]int, error) {
	var f, err = s.Fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pageSize = s.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	var max = maxLineSize
	if pageSize > max {
		max = pageSize
	}
	var br = bufio.NewScanner(f)
	br.Buffer(make([]byte, 0, pageSize), max)

	var out map[int][]int
	for lineNo := 1; br.Scan(); lineNo++ {
		if offsets := indexAll(br.Text(), query); len(offsets) != 0 {
			if out == nil {
				out = make(map[int][]int)
			}
			out[lineNo] = offsets
		}
	}
	return out, br.Err()
}

// indexAll returns the byte offsets of each non-overlapping occurrence of
// |query| within |line|.
func indexAll(line, query string) []int {
	var out []int
	for base := 0; ; {
		var ind = strings.Index(line[base:], query)
		if ind == -1 {
			return out
		}
		out = append(out, base+ind)
		base += ind + len(query)
	}
}
