package logstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/slivotov/GDLogTool/mirror"
	"github.com/slivotov/GDLogTool/pathcodec"
	"github.com/slivotov/GDLogTool/quota"
)

const testRoot = "/store"

func TestAppendWritesDayFileAndUpdatesState(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var s = newTestStore(t, fs, 0)
	var before = s.LastUpdateTime()

	s.Append([]string{"", "app", " ", "prod"}, "2024-03-07T10:11:12Z", "hello")
	s.Append([]string{"app", "prod"}, "2024-03-07T10:11:13Z", "world")
	s.Append([]string{"app", "prod"}, "2024-03-05T09:00:00Z", "earlier")
	s.Append([]string{"app", "prod"}, "garbage", "no time")

	require.Equal(t, []string{"10:11:12 hello", "10:11:13 world"},
		s.ReadLines([]string{"app", "prod"}, "2024-07-Mar.log"))
	require.Equal(t, []string{"09:00:00 earlier"},
		s.ReadLines([]string{"app", "prod"}, "2024-05-Mar.log"))
	require.Equal(t, []string{"**:**:** no time"},
		s.ReadLines([]string{"app", "prod"}, pathcodec.FallbackFileName))

	// Each distinct day is indexed once, ascending. The fallback file isn't indexed.
	require.Equal(t, []time.Time{day(2024, 3, 5), day(2024, 3, 7)}, s.Dates())

	var expect = int64(len("10:11:12 hello\n") + len("10:11:13 world\n") +
		len("09:00:00 earlier\n") + len("**:**:** no time\n"))
	require.Equal(t, expect, s.Size())
	require.Equal(t, expect, measureT(t, fs, testRoot))

	var tree, err = s.Tree(-1)
	require.NoError(t, err)
	var prod, ok = tree.Lookup("app", "prod")
	require.True(t, ok)
	require.Equal(t, []string{"2024-05-Mar.log", "2024-07-Mar.log", "default.log"}, prod.Names())

	require.False(t, s.LastUpdateTime().Before(before))
}

func TestReadLinesOfMissingFileIsEmpty(t *testing.T) {
	var s = newTestStore(t, afero.NewMemMapFs(), 0)

	var lines = s.ReadLines([]string{"nope"}, "2024-07-Mar.log")
	require.NotNil(t, lines)
	require.Empty(t, lines)
}

func TestAppendRecordsAlerts(t *testing.T) {
	var s = newTestStore(t, afero.NewMemMapFs(), 0)

	require.NoError(t, s.Subscribe("ERROR.*", "alice@x.com"))
	s.Append([]string{"app"}, "2024-03-07T10:11:12Z", "ERROR disk full")
	s.Append([]string{"app"}, "2024-03-07T10:11:13Z", "INFO all good")

	require.Equal(t, map[string][]string{"ERROR.*": {"10:11:12 ERROR disk full"}}, s.Alerts())
	require.Equal(t, map[string][]string{"ERROR.*": {"alice@x.com"}}, s.Subscribers())

	s.RemoveAlert("ERROR.*", "10:11:12 ERROR disk full")
	require.Equal(t, map[string][]string{"ERROR.*": {}}, s.Alerts())

	s.Unsubscribe("ERROR.*", "alice@x.com")
	require.Empty(t, s.Subscribers())

	s.SubscribeToQuotaAlert("ops@x.com")
	require.Equal(t, []string{"ops@x.com"}, s.QuotaSubscribers())
	s.UnsubscribeToQuotaAlert("ops@x.com")
	require.Empty(t, s.QuotaSubscribers())

	require.NoError(t, s.Subscribe("x", "y@z"))
	s.RemoveFilter("x")
	require.Empty(t, s.Subscribers())
}

func TestTreeLiveListingBypassesMirror(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var s = newTestStore(t, fs, 0)

	// Written behind the Store's back, so the mirror doesn't know of them.
	writeFile(t, fs, "/store/app/a.log", "a\n")
	writeFile(t, fs, "/store/app/b.log", "b\n")
	writeFile(t, fs, "/store/app/prod/c.log", "c\n")

	var node, err = s.Tree(0, "app")
	require.NoError(t, err)
	require.Equal(t, []string{"a.log", "b.log", "prod"}, node.Names())
	for _, child := range node.Children {
		require.False(t, child.Expanded)
		require.Empty(t, child.Children)
	}
	require.Equal(t, mirror.Directory, node.Children["prod"].Kind)

	_, err = s.Tree(1, "app")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Tree(0, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTreeProjectsMirrorByDepth(t *testing.T) {
	var s = newTestStore(t, afero.NewMemMapFs(), 0)
	s.Append([]string{"app", "prod", "web"}, "2024-03-07T10:00:00Z", "m")
	s.Append([]string{"app", "dev"}, "2024-03-07T10:00:00Z", "m")

	var node, err = s.Tree(1, "app")
	require.NoError(t, err)
	require.Equal(t, []string{"dev", "prod"}, node.Names())
	require.Equal(t, []string{"2024-07-Mar.log"}, node.Children["dev"].Names())
	require.Equal(t, []string{"web"}, node.Children["prod"].Names())
	require.False(t, node.Children["prod"].Children["web"].Expanded)

	node, err = s.Tree(-1, "", "app", "prod")
	require.NoError(t, err)
	var leaf, ok = node.Lookup("web", "2024-07-Mar.log")
	require.True(t, ok)
	require.True(t, leaf.IsLeaf())

	_, err = s.Tree(-1, "app", "staging")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFileCascadesEmptyParents(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var s = newTestStore(t, fs, 0)

	s.Append([]string{"a", "b", "c"}, "2024-03-07T10:00:00Z", "deep")
	s.Append([]string{"a", "x"}, "2024-03-07T10:00:00Z", "sibling")

	s.DeleteFile([]string{"a", "b", "c"}, "2024-07-Mar.log")

	// "c" and "b" are removed, but "a" still holds "x".
	exists(t, fs, "/store/a/b", false)
	exists(t, fs, "/store/a/x", true)

	var tree, err = s.Tree(-1)
	require.NoError(t, err)
	_, ok := tree.Lookup("a", "b")
	require.False(t, ok)

	s.DeleteFile([]string{"a", "x"}, "2024-07-Mar.log")
	exists(t, fs, "/store/a", false)
	exists(t, fs, testRoot, true)

	tree, err = s.Tree(-1)
	require.NoError(t, err)
	require.Empty(t, tree.Children)
	require.Equal(t, int64(0), s.Size())

	// Blank names and missing files are ignored.
	s.DeleteFile([]string{"a"}, " ")
	s.DeleteFile([]string{"a"}, "missing.log")
	require.Equal(t, int64(0), s.Size())
}

func TestDeleteFileRefusesDirectories(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var s = newTestStore(t, fs, 0)

	s.Append([]string{"app"}, "2024-03-07T10:00:00Z", "kept")
	require.NoError(t, fs.MkdirAll("/store/app/empty", 0750))
	var size = s.Size()

	s.DeleteFile([]string{"app"}, "empty")
	exists(t, fs, "/store/app/empty", true)
	require.Equal(t, size, s.Size())
	require.Equal(t, measureT(t, fs, testRoot), s.Size())
}

func TestDeleteFileUpdatesLastUpdateTime(t *testing.T) {
	var now = time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	defer func(prior func() time.Time) { timeNow = prior }(timeNow)
	timeNow = func() time.Time { return now }

	var s = newTestStore(t, afero.NewMemMapFs(), 0)
	s.Append([]string{"app"}, "2024-03-07T10:00:00Z", "one")
	s.Append([]string{"app"}, "2024-03-08T10:00:00Z", "two")
	require.Equal(t, now, s.LastUpdateTime().UTC())

	// Deleting one of two files leaves the directory in place.
	now = now.Add(time.Minute)
	s.DeleteFile([]string{"app"}, "2024-07-Mar.log")
	require.Equal(t, now, s.LastUpdateTime().UTC())

	// A refused delete isn't an update.
	var last = now
	now = now.Add(time.Minute)
	s.DeleteFile([]string{"app"}, "missing.log")
	require.Equal(t, last, s.LastUpdateTime().UTC())
}

func TestDeleteDirectoryUpdatesSizeAndCascades(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var s = newTestStore(t, fs, 0)

	s.Append([]string{"app", "prod", "web"}, "2024-03-07T10:00:00Z", "one")
	s.Append([]string{"app", "prod", "web", "deep"}, "2024-03-07T10:00:00Z", "two")
	s.Append([]string{"other"}, "2024-03-07T10:00:00Z", "three")

	s.DeleteDirectory()
	s.DeleteDirectory("", " ")
	require.Equal(t, measureT(t, fs, testRoot), s.Size())

	s.DeleteDirectory("app", "prod", "web")
	exists(t, fs, "/store/app", false)
	exists(t, fs, "/store/other", true)

	require.Equal(t, int64(len("10:00:00 three\n")), s.Size())
	require.Equal(t, measureT(t, fs, testRoot), s.Size())

	var tree, err = s.Tree(-1)
	require.NoError(t, err)
	require.Equal(t, []string{"other"}, tree.Names())
}

func TestNewRebuildsFromDisk(t *testing.T) {
	var fs = afero.NewMemMapFs()
	writeFile(t, fs, "/store/app/prod/2024-07-Mar.log", "10:00:00 a\n")
	writeFile(t, fs, "/store/app/prod/2024-05-Mar.log", "10:00:00 bb\n")
	writeFile(t, fs, "/store/app/default.log", "**:**:** c\n")

	var s = newTestStore(t, fs, 0)
	require.Equal(t, int64(11+12+11), s.Size())
	require.Equal(t, []time.Time{day(2024, 3, 5), day(2024, 3, 7)}, s.Dates())

	// The rebuilt mirror matches one grown by appends.
	var other = newTestStore(t, afero.NewMemMapFs(), 0)
	other.Append([]string{"app", "prod"}, "2024-03-07T10:00:00Z", "a")
	other.Append([]string{"app", "prod"}, "2024-03-05T10:00:00Z", "bb")
	other.Append([]string{"app"}, "bad", "c")

	var t1, err1 = s.Tree(-1)
	var t2, err2 = other.Tree(-1)
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, t1, t2)
	require.Equal(t, s.Size(), other.Size())
}

func TestNewRequiresRoot(t *testing.T) {
	var _, err = New(Config{})
	require.EqualError(t, err, "store root not configured")
}

func TestEvictionScenario(t *testing.T) {
	const maxSize = 1 << 20
	var fs = afero.NewMemMapFs()
	var notifier = &quotaNotifier{ch: make(chan []string, 1)}
	var s, err = New(Config{Root: testRoot, MaxSize: maxSize}, WithFs(fs), WithNotifier(notifier))
	require.NoError(t, err)
	s.SubscribeToQuotaAlert("ops@x.com")

	var limits = quota.Limits{Max: maxSize}

	var path = []string{"app", "prod"}
	var payload = strings.Repeat("p", 600)

	// A fallback file elsewhere in the hierarchy, which eviction removes first.
	s.Append([]string{"app"}, "unparseable", payload)
	exists(t, fs, "/store/app/default.log", true)

	var evicted bool
	for i := 0; i != 2000; i++ {
		var d = 1 + i*5/2000 // Five distinct days, in order.
		var ts = fmt.Sprintf("2024-03-%02dT10:%02d:%02dZ", d, (i/60)%60, i%60)
		var triggering = limits.Exceeded(s.Size())

		s.Append(path, ts, fmt.Sprintf("%04d %s", i, payload))

		if !triggering {
			if !evicted {
				exists(t, fs, "/store/app/prod/2024-01-Mar.log", true)
				exists(t, fs, "/store/app/default.log", true)
			}
			continue
		}
		require.False(t, evicted, "eviction should occur once")
		evicted = true

		// The oldest day and the fallback file are gone, and usage is under the
		// low-water mark, plus the line this append then wrote.
		exists(t, fs, "/store/app/prod/2024-01-Mar.log", false)
		exists(t, fs, "/store/app/default.log", false)
		exists(t, fs, "/store/app/prod/2024-02-Mar.log", true)

		var lines = s.ReadLines(path, s.codec.DayFileName(ts))
		require.Equal(t, s.codec.FormatLine(fmt.Sprintf("%04d %s", i, payload), ts), lines[len(lines)-1])
		var lastLine = int64(len(lines[len(lines)-1]) + 1)
		require.LessOrEqual(t, s.Size()-lastLine, limits.LowWater())
	}
	require.True(t, evicted)
	require.Equal(t, measureT(t, fs, testRoot), s.Size())

	select {
	case to := <-notifier.ch:
		require.Equal(t, []string{"ops@x.com"}, to)
	case <-time.After(5 * time.Second):
		t.Fatal("quota notification not delivered")
	}
}

func TestEvictionWithUnmeetableQuotaStillWrites(t *testing.T) {
	var fs = afero.NewMemMapFs()
	// Content which eviction never considers.
	writeFile(t, fs, "/store/notes/readme.txt", strings.Repeat("x", 100))

	var s = newTestStore(t, fs, 10)
	s.Append([]string{"app"}, "2024-03-07T10:00:00Z", "still written")

	require.Equal(t, []string{"10:00:00 still written"}, s.ReadLines([]string{"app"}, "2024-07-Mar.log"))
	exists(t, fs, "/store/notes/readme.txt", true)
	require.Equal(t, measureT(t, fs, testRoot), s.Size())

	// The next append exhausts the index, and again writes regardless.
	s.Append([]string{"app"}, "2024-03-08T10:00:00Z", "again")
	require.Equal(t, []string{"10:00:00 again"}, s.ReadLines([]string{"app"}, "2024-08-Mar.log"))
	require.Equal(t, measureT(t, fs, testRoot), s.Size())
}

func TestEvictionRemovesFallbackFilesWithoutIndexedDays(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var s = newTestStore(t, fs, 100)
	var msg = strings.Repeat("m", 60) // Lines of 70 bytes.

	s.Append([]string{"app"}, "unparseable", msg)
	s.Append([]string{"app"}, "unparseable", msg)
	require.Equal(t, int64(140), s.Size())
	require.Empty(t, s.Dates())

	// The store is over quota, and the fallback file is all there is to evict.
	s.Append([]string{"app"}, "unparseable", msg)
	require.Equal(t, int64(70), s.Size())
	require.Equal(t, []string{pathcodec.FallbackTime + " " + msg},
		s.ReadLines([]string{"app"}, pathcodec.FallbackFileName))
	require.Equal(t, measureT(t, fs, testRoot), s.Size())
}

func TestSearchDelegates(t *testing.T) {
	var s = newTestStore(t, afero.NewMemMapFs(), 0)
	s.Append([]string{"app"}, "2024-03-07T10:00:00Z", "ERROR disk full")
	s.Append([]string{"app"}, "2024-03-07T10:00:01Z", "fine")

	var out, err = s.Search(context.Background(), []string{"", "app"}, "disk")
	require.NoError(t, err)
	require.Equal(t, map[int][]int{1: {15}}, out["2024-07-Mar.log"])
	require.Len(t, out, 1)
}

func TestConcurrentAppendsAndDeletes(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var s = newTestStore(t, fs, 4<<10)
	var wg sync.WaitGroup

	for i := 0; i != 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j != 50; j++ {
				var ts = fmt.Sprintf("2024-03-%02dT10:00:00Z", 1+j%9)
				s.Append([]string{"app", fmt.Sprint(i % 3)}, ts, strings.Repeat("m", 40))
				if j%17 == 0 {
					s.DeleteFile([]string{"app", fmt.Sprint(i % 3)}, fmt.Sprintf("2024-%02d-Mar.log", 1+j%9))
				}
				_, _ = s.Tree(-1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, measureT(t, fs, testRoot), s.Size())
}

func TestStoreOnOSFilesystem(t *testing.T) {
	var root = filepath.Join(t.TempDir(), "store")
	var s, err = New(Config{Root: root, MaxSize: 1 << 20})
	require.NoError(t, err)

	s.Append([]string{"app"}, "2024-03-07T10:11:12Z", "on disk")
	require.FileExists(t, filepath.Join(root, "app", "2024-07-Mar.log"))
	require.Equal(t, []string{"10:11:12 on disk"}, s.ReadLines([]string{"app"}, "2024-07-Mar.log"))

	s.DeleteFile([]string{"app"}, "2024-07-Mar.log")
	require.NoDirExists(t, filepath.Join(root, "app"))
	require.DirExists(t, root)
	require.Equal(t, int64(0), s.Size())
}

func newTestStore(t *testing.T, fs afero.Fs, maxSize int64) *Store {
	var s, err = New(Config{Root: testRoot, MaxSize: maxSize}, WithFs(fs))
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
}

func exists(t *testing.T, fs afero.Fs, path string, expect bool) {
	var ok, err = afero.Exists(fs, path)
	require.NoError(t, err)
	require.Equal(t, expect, ok, path)
}

func measureT(t *testing.T, fs afero.Fs, path string) int64 {
	var n, err = measure(fs, path)
	require.NoError(t, err)
	return n
}

type quotaNotifier struct{ ch chan []string }

func (n *quotaNotifier) Notify(_ context.Context, subject, body string, to []string) error {
	if body == "Storage quota reached." {
		select {
		case n.ch <- to:
		default:
		}
	}
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
