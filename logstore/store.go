// Package logstore is a hierarchical, quota-bounded store of timestamped log
// lines. Lines are appended beneath caller-supplied paths into one file per
// calendar day. The Store keeps an in-memory mirror of the directory tree, a
// running total of stored bytes, and an index of stored days which drives
// eviction once the total exceeds the configured maximum.
//
// All operations which read or mutate the tree, the size total, or the day
// index are serialized by a single Store mutex. Filesystem I/O failures are
// logged and never returned: appends and deletes abort without bookkeeping,
// and reads return an empty result. Tree queries of a path which doesn't
// exist are the exception, and return ErrNotFound.
package logstore

import (
	"bufio"
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/slivotov/GDLogTool/alerts"
	"github.com/slivotov/GDLogTool/metrics"
	"github.com/slivotov/GDLogTool/mirror"
	"github.com/slivotov/GDLogTool/pathcodec"
	"github.com/slivotov/GDLogTool/quota"
	"github.com/slivotov/GDLogTool/search"
)

// ErrNotFound is returned by Tree for a path which doesn't exist.
var ErrNotFound = errors.New("path not found")

// Config of a Store.
type Config struct {
	// Root directory of the store.
	Root string
	// MaxSize is the high-water mark of stored bytes. Non-positive is unbounded.
	MaxSize int64
	// PageSize is the read buffer size used by the default Searcher.
	PageSize int
}

// Option customizes a Store.
type Option func(*Store)

// WithFs uses |fs| for all filesystem access. The default is the OS filesystem.
func WithFs(fs afero.Fs) Option { return func(s *Store) { s.fs = fs } }

// WithNotifier delivers alert and quota notifications through |n|.
func WithNotifier(n alerts.Notifier) Option { return func(s *Store) { s.notifier = n } }

// WithSearcher delegates Search to |searcher|.
func WithSearcher(searcher search.Searcher) Option {
	return func(s *Store) { s.searcher = searcher }
}

// WithCodec renders day files and lines using |c|.
func WithCodec(c pathcodec.Codec) Option { return func(s *Store) { s.codec = c } }

// Store is a log store rooted at a directory.
type Store struct {
	fs       afero.Fs
	root     string
	codec    pathcodec.Codec
	limits   quota.Limits
	searcher search.Searcher
	notifier alerts.Notifier
	registry *alerts.Registry

	lastUpdate atomic.Int64 // UnixNano of the last directory creation or removal.

	mu    sync.Mutex
	size  int64
	tree  *mirror.Node
	dates quota.DateIndex
}

// New returns a Store of the Config. The root directory is created if
// needed, and the tree mirror, day index, and size total are rebuilt from
// its current contents.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("store root not configured")
	}
	var s = &Store{
		fs:     afero.NewOsFs(),
		root:   cfg.Root,
		limits: quota.Limits{Max: cfg.MaxSize},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.searcher == nil {
		s.searcher = search.Scanner{Fs: s.fs, PageSize: cfg.PageSize}
	}
	s.registry = alerts.NewRegistry(s.notifier)

	if err := s.fs.MkdirAll(s.root, 0750); err != nil {
		return nil, errors.Wrapf(err, "creating store root %s", s.root)
	}
	var tree, err = mirror.Rebuild(s.fs, s.root, func(name string) {
		if day, ok := s.codec.ParseDay(name); ok {
			s.dates.Add(day)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "rebuilding tree mirror")
	}
	s.tree = tree

	if s.size, err = measure(s.fs, s.root); err != nil {
		return nil, errors.WithMessage(err, "measuring store root")
	}
	s.touch()
	metrics.SizeBytes.Set(float64(s.size))

	log.WithFields(log.Fields{
		"root":    s.root,
		"size":    s.size,
		"maxSize": cfg.MaxSize,
		"days":    s.dates.Len(),
	}).Info("opened log store")

	return s, nil
}

// Append |message| with |timestamp| to the day file of |path|. If the store
// is over its maximum size, older content is first evicted. Failures are
// logged, and leave the size, tree, and day index untouched.
func (s *Store) Append(path []string, timestamp, message string) {
	defer s.mu.Unlock()
	s.mu.Lock()

	if s.limits.Exceeded(s.size) {
		s.registry.NotifyQuota()
		s.evict()
	}

	var segments = pathcodec.Sanitize(path)
	var dir = pathcodec.Join(s.root, segments...)

	if ok, _ := afero.DirExists(s.fs, dir); !ok {
		if err := s.fs.MkdirAll(dir, 0750); err != nil {
			log.WithFields(log.Fields{"err": err, "path": dir}).Error("failed to create log directory")
			metrics.AppendFailuresTotal.Inc()
			return
		}
		s.touch()
	}

	var name = s.codec.DayFileName(timestamp)
	var file = pathcodec.Join(dir, name)
	var line = s.codec.FormatLine(message, timestamp)

	var n, err = s.appendLine(file, line)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "path": file}).Error("failed to append message")
		metrics.AppendFailuresTotal.Inc()
		return
	}
	s.size += n

	if day, ok := s.codec.ParseDay(name); ok {
		s.dates.Add(day)
	}
	s.tree.Insert(append(segments, name)...)

	metrics.AppendedLinesTotal.Inc()
	metrics.AppendedBytesTotal.Add(float64(n))
	metrics.SizeBytes.Set(float64(s.size))

	s.registry.MatchAndRecord(file, message, line)
}

func (s *Store) appendLine(file, line string) (int64, error) {
	var f, err = s.fs.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return 0, err
	}
	var n int
	if n, err = f.Write([]byte(line + "\n")); err != nil {
		f.Close()
		return 0, err
	}
	if err = f.Close(); err != nil {
		return 0, errors.Wrap(err, "closing")
	}
	return int64(n), nil
}

// evict content until the store is at or below its low-water mark.
// s.mu must be held.
func (s *Store) evict() {
	var sizeBefore = s.size

	var evictor = quota.Evictor{
		Fs:     s.fs,
		Root:   s.root,
		Codec:  s.codec,
		Index:  &s.dates,
		Over:   func() bool { return s.limits.AboveLowWater(s.size) },
		Remove: s.evictFile,
	}
	if err := evictor.Evict(); err != nil {
		log.WithFields(log.Fields{
			"err":      err,
			"size":     s.size,
			"maxSize":  s.limits.Max,
			"lowWater": s.limits.LowWater(),
		}).Error("store quota cannot be met; continuing over capacity")
		return
	}
	log.WithFields(log.Fields{
		"freed": sizeBefore - s.size,
		"size":  s.size,
	}).Info("evicted log files to meet store quota")
}

func (s *Store) evictFile(dir []string, name string) {
	if freed := s.deleteFile(dir, name); freed != 0 {
		metrics.EvictedFilesTotal.Inc()
		metrics.EvictedBytesTotal.Add(float64(freed))
	}
}

// ReadLines returns the lines of file |name| beneath |path|. A file which
// cannot be read yields an empty slice.
func (s *Store) ReadLines(path []string, name string) []string {
	defer s.mu.Unlock()
	s.mu.Lock()

	var file = pathcodec.Join(pathcodec.Join(s.root, pathcodec.Sanitize(path)...), name)
	var lines, err = readLines(s.fs, file)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "path": file}).Error("failed to read log file")
		return []string{}
	}
	return lines
}

func readLines(fs afero.Fs, file string) ([]string, error) {
	var f, err = fs.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out = []string{}
	var br = bufio.NewScanner(f)
	br.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	for br.Scan() {
		out = append(out, br.Text())
	}
	return out, br.Err()
}

// DeleteFile removes file |name| beneath |path|. Directories left empty by
// the removal are removed in turn, up to (but excluding) the store root.
// A blank |name| is ignored.
func (s *Store) DeleteFile(path []string, name string) {
	if isBlank(name) {
		return
	}
	defer s.mu.Unlock()
	s.mu.Lock()

	if freed := s.deleteFile(pathcodec.Sanitize(path), name); freed != 0 {
		metrics.DeletedBytesTotal.Add(float64(freed))
	}
}

// deleteFile removes file |name| of directory |dir|, returning the number of
// bytes freed. Names of anything other than a regular file are refused.
// s.mu must be held.
func (s *Store) deleteFile(dir []string, name string) int64 {
	var file = pathcodec.Join(pathcodec.Join(s.root, dir...), name)

	var info, err = s.fs.Stat(file)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "path": file}).Warn("couldn't stat log file for deletion")
		return 0
	} else if !info.Mode().IsRegular() {
		log.WithFields(log.Fields{"path": file, "mode": info.Mode()}).Warn("refusing to delete non-file")
		return 0
	}

	if err = s.fs.Remove(file); err != nil {
		log.WithFields(log.Fields{"err": err, "path": file}).Error("couldn't delete log file")
		return 0
	}
	s.size -= info.Size()
	s.tree.Remove(append(append([]string(nil), dir...), name)...)
	s.touch()
	metrics.SizeBytes.Set(float64(s.size))

	s.removeEmptyDirs(dir)
	return info.Size()
}

// DeleteDirectory removes directory |path| and everything beneath it.
// Directories left empty by the removal are removed in turn, up to (but
// excluding) the store root. An empty |path| is ignored.
func (s *Store) DeleteDirectory(path ...string) {
	var segments = pathcodec.Sanitize(path)
	if len(segments) == 0 {
		return
	}
	defer s.mu.Unlock()
	s.mu.Lock()

	var dir = pathcodec.Join(s.root, segments...)
	var size, err = measure(s.fs, dir)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		log.WithFields(log.Fields{"err": err, "path": dir}).Warn("failed to measure directory")
	}

	if err = s.fs.RemoveAll(dir); err != nil {
		log.WithFields(log.Fields{"err": err, "path": dir}).Error("couldn't delete directory")

		// Account for whatever was removed before the failure.
		var remaining, _ = measure(s.fs, dir)
		size -= remaining
	} else {
		s.tree.Remove(segments...)
		s.touch()
	}
	s.size -= size

	metrics.DeletedBytesTotal.Add(float64(size))
	metrics.SizeBytes.Set(float64(s.size))

	s.removeEmptyDirs(segments[:len(segments)-1])
}

// removeEmptyDirs removes |dir| if it's empty, and then each ancestor left
// empty, stopping at the store root. s.mu must be held.
func (s *Store) removeEmptyDirs(dir []string) {
	for ; len(dir) != 0; dir = dir[:len(dir)-1] {
		var path = pathcodec.Join(s.root, dir...)

		if empty, err := afero.IsEmpty(s.fs, path); err != nil || !empty {
			return
		} else if err = s.fs.Remove(path); err != nil {
			log.WithFields(log.Fields{"err": err, "path": path}).Error("couldn't delete empty directory")
			return
		}
		s.tree.Remove(dir...)
		s.touch()
	}
}

// Tree returns a projection of the tree mirror at |path|. A |depth| of -1
// returns the complete subtree. A |depth| of zero lists |path| directly from
// disk, one level deep, bypassing the mirror. Other depths expand that many
// further levels of directories from the mirror. ErrNotFound is returned if
// |path| doesn't exist.
func (s *Store) Tree(depth int, path ...string) (*mirror.Node, error) {
	var segments = pathcodec.Sanitize(path)

	defer s.mu.Unlock()
	s.mu.Lock()

	if depth == 0 {
		var dir = pathcodec.Join(s.root, segments...)
		var node, err = mirror.ReadLive(s.fs, dir)

		if os.IsNotExist(err) {
			return nil, errors.WithMessagef(ErrNotFound, "listing %s", dir)
		} else if err != nil {
			return nil, errors.Wrapf(err, "listing %s", dir)
		}
		return node, nil
	}

	var node, ok = s.tree.Lookup(segments...)
	if !ok {
		log.WithField("path", segments).Warn("tree query of unknown path")
		return nil, errors.WithMessagef(ErrNotFound, "%v", segments)
	}
	return node.Project(depth), nil
}

// Search the log files beneath |path| for |query|.
func (s *Store) Search(ctx context.Context, path []string, query string) (search.Result, error) {
	var dir = pathcodec.Join(s.root, pathcodec.Sanitize(path)...)
	return s.searcher.Search(ctx, dir, query)
}

// Size returns the current number of stored bytes.
func (s *Store) Size() int64 {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.size
}

// MaxSize returns the configured high-water mark.
func (s *Store) MaxSize() int64 { return s.limits.Max }

// Dates returns the days of the eviction index, ascending.
func (s *Store) Dates() []time.Time {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.dates.Days()
}

// LastUpdateTime is the time at which a directory of the store was last
// created or removed, or a log file was deleted.
func (s *Store) LastUpdateTime() time.Time {
	return time.Unix(0, s.lastUpdate.Load())
}

func (s *Store) touch() { s.lastUpdate.Store(timeNow().UnixNano()) }

// Registry returns the alert registry of the Store.
func (s *Store) Registry() *alerts.Registry { return s.registry }

// Subscribe |email| to messages matching |filter|.
func (s *Store) Subscribe(filter, email string) error { return s.registry.Subscribe(filter, email) }

// Unsubscribe |email| from |filter|.
func (s *Store) Unsubscribe(filter, email string) { s.registry.Unsubscribe(filter, email) }

// RemoveFilter removes |filter|, its subscribers, and its pending alerts.
func (s *Store) RemoveFilter(filter string) { s.registry.RemoveFilter(filter) }

// Subscribers returns a copy of filters and their subscribers.
func (s *Store) Subscribers() map[string][]string { return s.registry.Subscribers() }

// Alerts returns a copy of filters and their pending alerts.
func (s *Store) Alerts() map[string][]string { return s.registry.Alerts() }

// RemoveAlert drops pending alert |message| of |filter|.
func (s *Store) RemoveAlert(filter, message string) { s.registry.RemoveAlert(filter, message) }

// SubscribeToQuotaAlert subscribes |email| to the quota alert.
func (s *Store) SubscribeToQuotaAlert(email string) { s.registry.SubscribeToQuotaAlert(email) }

// UnsubscribeToQuotaAlert unsubscribes |email| from the quota alert.
func (s *Store) UnsubscribeToQuotaAlert(email string) { s.registry.UnsubscribeToQuotaAlert(email) }

// QuotaSubscribers returns the quota alert subscribers.
func (s *Store) QuotaSubscribers() []string { return s.registry.QuotaSubscribers() }

const maxLineSize = 4 << 20

var timeNow = time.Now
