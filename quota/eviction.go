package quota

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/slivotov/GDLogTool/metrics"
	"github.com/slivotov/GDLogTool/pathcodec"
)

// ErrQuotaUnmeetable is returned by Evict when every indexed day has been
// walked without usage falling to the low-water mark.
var ErrQuotaUnmeetable = errors.New("quota cannot be met: date index exhausted")

// EvictionWalk is a single depth-first, pre-order walk of the directory
// hierarchy rooted at Root, as it exists in Fs, which removes files of DayFile
// until Over reports false. The walk reads the live directory listing at each
// step rather than any cached mirror of it.
type EvictionWalk struct {
	Fs   afero.Fs
	Root string
	// DayFile is the name of the day's log file in each directory. If empty,
	// only fallback files are removed.
	DayFile string
	// Over reports whether usage is still above the low-water mark.
	Over func() bool
	// Remove deletes file |name| of directory |dir| (relative to Root),
	// accounting for its size.
	Remove func(dir []string, name string)
}

// Run the walk, returning true iff usage fell to the low-water mark.
//
// At each directory, a fallback file is removed unconditionally, and then the
// day file is removed if usage is still over the mark. If usage remains over,
// each subdirectory is walked in turn and the walk stops at the first which
// succeeds.
func (w EvictionWalk) Run() bool { return w.walk(nil) }

func (w EvictionWalk) walk(dir []string) bool {
	var path = pathcodec.Join(w.Root, dir...)

	if w.exists(pathcodec.Join(path, pathcodec.FallbackFileName)) {
		w.Remove(dir, pathcodec.FallbackFileName)
	}
	if w.DayFile != "" && w.Over() && w.exists(pathcodec.Join(path, w.DayFile)) {
		w.Remove(dir, w.DayFile)
	}
	if !w.Over() {
		return true
	}

	// |path| may itself have been removed, if a Remove emptied it.
	var infos, err = afero.ReadDir(w.Fs, path)
	if err != nil {
		return false
	}
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		var child = append(append(make([]string, 0, len(dir)+1), dir...), info.Name())
		if w.walk(child) {
			return true
		}
	}
	return false
}

func (w EvictionWalk) exists(path string) bool {
	var info, err = w.Fs.Stat(path)
	return err == nil && !info.IsDir()
}

// Evictor runs EvictionWalks over successive days of a DateIndex.
type Evictor struct {
	Fs     afero.Fs
	Root   string
	Codec  pathcodec.Codec
	Index  *DateIndex
	Over   func() bool
	Remove func(dir []string, name string)
}

// Evict walks the hierarchy for the oldest indexed day. If that walk fails to
// reach the low-water mark, the day is dropped from the index and the walk
// restarts from Root with the next-oldest day. Once the index is exhausted, a
// final walk removes only fallback files, and ErrQuotaUnmeetable is returned
// if that too fails to reach the low-water mark.
func (e *Evictor) Evict() error {
	for {
		var day, ok = e.Index.Head()
		var walk = EvictionWalk{
			Fs:     e.Fs,
			Root:   e.Root,
			Over:   e.Over,
			Remove: e.Remove,
		}
		if !ok {
			// Fallback files remain expendable with no day left to evict.
			if walk.Run() {
				metrics.EvictionPassesTotal.WithLabelValues(metrics.Ok).Inc()
				return nil
			}
			metrics.EvictionPassesTotal.WithLabelValues(metrics.Fail).Inc()
			return ErrQuotaUnmeetable
		}
		walk.DayFile = e.Codec.DayFileNameOf(day)

		if walk.Run() {
			metrics.EvictionPassesTotal.WithLabelValues(metrics.Ok).Inc()
			return nil
		}
		metrics.EvictionPassesTotal.WithLabelValues(metrics.Fail).Inc()

		log.WithField("day", walk.DayFile).Debug("eviction walk exhausted day")
		e.Index.DropHead()
	}
}
