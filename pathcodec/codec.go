// Package pathcodec maps caller-supplied path segments and message timestamps
// onto the on-disk layout of a log store: directories named by segments, one
// file per calendar day, and one "HH:MM:SS message" line per appended message.
package pathcodec

import (
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// FallbackFileName is the log file written when a message timestamp
	// cannot be parsed. Fallback files are always expendable under eviction.
	FallbackFileName = "default.log"
	// FallbackTime prefixes lines whose timestamp cannot be parsed.
	FallbackTime = "**:**:**"
	// Extension of every log file.
	Extension = ".log"

	// dayLayout renders the "yyyy-dd-MMM" day pattern, eg "2024-07-Mar".
	dayLayout = "2006-02-Jan"
	// dayLayoutLen is the length of any day rendered with |dayLayout|.
	dayLayoutLen = len(dayLayout)
	timeLayout   = "15:04:05"
)

// timestampLayouts are tried in order when parsing a message timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Sanitize returns the non-blank segments of |path| in their original order.
// A nil |path| yields an empty, non-nil slice.
func Sanitize(path []string) []string {
	var out = make([]string, 0, len(path))
	for _, seg := range path {
		if strings.TrimSpace(seg) != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Join |segments| onto |root| with the platform separator. Segments are not
// escaped: a segment containing a separator yields an unspecified path.
func Join(root string, segments ...string) string {
	var b strings.Builder
	b.WriteString(root)

	for _, seg := range segments {
		b.WriteRune(filepath.Separator)
		b.WriteString(seg)
	}
	return b.String()
}

// Codec renders day file names and log lines from message timestamps.
// The zero value renders in UTC.
type Codec struct {
	// Location into which parsed timestamps are converted before rendering.
	Location *time.Location
}

// DayFileName returns the name of the log file of the day of |timestamp|,
// or FallbackFileName if |timestamp| cannot be parsed.
func (c Codec) DayFileName(timestamp string) string {
	var t, ok = c.parse(timestamp)
	if !ok {
		return FallbackFileName
	}
	return t.Format(dayLayout) + Extension
}

// FormatLine prefixes |message| with the time-of-day of |timestamp|,
// or with FallbackTime if |timestamp| cannot be parsed.
func (c Codec) FormatLine(message, timestamp string) string {
	var t, ok = c.parse(timestamp)
	if !ok {
		return FallbackTime + " " + message
	}
	return t.Format(timeLayout) + " " + message
}

// ParseDay returns the calendar day named by a log file produced by
// DayFileName. The fallback file, and names not beginning with a rendered
// day, return false.
func (c Codec) ParseDay(fileName string) (time.Time, bool) {
	if fileName == FallbackFileName || len(fileName) < dayLayoutLen {
		return time.Time{}, false
	}
	var day, err = time.ParseInLocation(dayLayout, fileName[:dayLayoutLen], c.location())
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// DayFileNameOf returns the log file name of |day|.
func (c Codec) DayFileNameOf(day time.Time) string {
	return day.In(c.location()).Format(dayLayout) + Extension
}

func (c Codec) parse(timestamp string) (time.Time, bool) {
	var ts = strings.TrimSpace(timestamp)

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, ts, c.location()); err == nil {
			return t.In(c.location()), true
		}
	}
	log.WithField("timestamp", timestamp).Warn("couldn't parse message timestamp")
	return time.Time{}, false
}

func (c Codec) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
