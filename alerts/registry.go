// Package alerts tracks subscriptions of email addresses to message filters,
// the pending alerts recorded against each filter, and subscribers to the
// store's quota alert.
//
// Each of the three collections is guarded by its own mutex, so registry
// management never contends with log writes. The only operation holding two
// of them at once is RemoveFilter, which always acquires the alerts lock
// before the subscribers lock (see withAlertsThenSubscribers). Any future
// operation which needs both must go through the same helper.
package alerts

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/slivotov/GDLogTool/metrics"
)

// Notifier delivers a message to a set of recipients.
type Notifier interface {
	Notify(ctx context.Context, subject, body string, to []string) error
}

const (
	alertSubject     = "GDLogTool alert"
	quotaSubject     = "GDLogTool quota alert"
	quotaMessage     = "Storage quota reached."
	patternCacheSize = 256
)

// Registry of filter subscribers, pending alerts, and quota subscribers.
type Registry struct {
	subscribersMu sync.Mutex
	subscribers   map[string]map[string]struct{} // Filter => addresses.

	alertsMu sync.Mutex
	alerts   map[string]map[string]struct{} // Filter => formatted lines.

	quotaMu          sync.Mutex
	quotaSubscribers map[string]struct{}

	patterns *lru.Cache // Filter => *regexp.Regexp.
	notifier Notifier   // Optional.
}

// NewRegistry returns an empty Registry. |notifier| may be nil, in which case
// alerts are recorded but never delivered.
func NewRegistry(notifier Notifier) *Registry {
	var patterns, err = lru.New(patternCacheSize)
	if err != nil {
		panic(err) // Only possible with a non-positive size.
	}
	return &Registry{
		subscribers:      make(map[string]map[string]struct{}),
		alerts:           make(map[string]map[string]struct{}),
		quotaSubscribers: make(map[string]struct{}),
		patterns:         patterns,
		notifier:         notifier,
	}
}

// Subscribe |email| to messages matching regular expression |filter|.
// A blank |filter| or |email| is ignored. The filter must match an entire
// message for an alert to be recorded.
func (r *Registry) Subscribe(filter, email string) error {
	if isBlank(filter) || isBlank(email) {
		return nil
	}
	if _, err := r.compile(filter); err != nil {
		return err
	}

	defer r.subscribersMu.Unlock()
	r.subscribersMu.Lock()

	var set, ok = r.subscribers[filter]
	if !ok {
		set = make(map[string]struct{})
		r.subscribers[filter] = set
	}
	set[email] = struct{}{}
	return nil
}

// Unsubscribe |email| from |filter|. A filter left without subscribers is
// removed, though its pending alerts are retained.
func (r *Registry) Unsubscribe(filter, email string) {
	if isBlank(filter) || isBlank(email) {
		return
	}
	defer r.subscribersMu.Unlock()
	r.subscribersMu.Lock()

	var set, ok = r.subscribers[filter]
	if !ok {
		return
	}
	delete(set, email)

	if len(set) == 0 {
		delete(r.subscribers, filter)
	}
}

// RemoveFilter removes |filter| with all its subscribers and pending alerts.
func (r *Registry) RemoveFilter(filter string) {
	if isBlank(filter) {
		return
	}
	r.withAlertsThenSubscribers(func() {
		delete(r.subscribers, filter)
		delete(r.alerts, filter)
	})
	r.patterns.Remove(filter)
}

// withAlertsThenSubscribers invokes |fn| while holding both the alerts and
// subscribers locks, acquired in that fixed order.
func (r *Registry) withAlertsThenSubscribers(fn func()) {
	r.alertsMu.Lock()
	defer r.alertsMu.Unlock()
	r.subscribersMu.Lock()
	defer r.subscribersMu.Unlock()

	fn()
}

// Subscribers returns a copy of filters and their sorted subscribers.
func (r *Registry) Subscribers() map[string][]string {
	defer r.subscribersMu.Unlock()
	r.subscribersMu.Lock()

	return copySets(r.subscribers)
}

// Alerts returns a copy of filters and their sorted pending alerts.
func (r *Registry) Alerts() map[string][]string {
	defer r.alertsMu.Unlock()
	r.alertsMu.Lock()

	return copySets(r.alerts)
}

// RemoveAlert drops pending alert |message| of |filter|.
func (r *Registry) RemoveAlert(filter, message string) {
	if isBlank(filter) || isBlank(message) {
		return
	}
	defer r.alertsMu.Unlock()
	r.alertsMu.Lock()

	if set, ok := r.alerts[filter]; ok {
		delete(set, message)
	}
}

// SubscribeToQuotaAlert adds |email| to the quota alert subscribers.
func (r *Registry) SubscribeToQuotaAlert(email string) {
	if isBlank(email) {
		return
	}
	defer r.quotaMu.Unlock()
	r.quotaMu.Lock()

	r.quotaSubscribers[email] = struct{}{}
}

// UnsubscribeToQuotaAlert removes |email| from the quota alert subscribers.
func (r *Registry) UnsubscribeToQuotaAlert(email string) {
	if isBlank(email) {
		return
	}
	defer r.quotaMu.Unlock()
	r.quotaMu.Lock()

	delete(r.quotaSubscribers, email)
}

// QuotaSubscribers returns the sorted quota alert subscribers.
func (r *Registry) QuotaSubscribers() []string {
	defer r.quotaMu.Unlock()
	r.quotaMu.Lock()

	return sortedKeys(r.quotaSubscribers)
}

// MatchAndRecord tests each subscribed filter against raw |message|, and
// records formatted |line| as a pending alert of each filter which matches.
// |path| names the log file |line| was written to, and is used only in
// notifications. The number of matching filters is returned.
func (r *Registry) MatchAndRecord(path, message, line string) int {
	// Snapshot filters & recipients without holding the lock while matching.
	r.subscribersMu.Lock()
	var snapshot = copySets(r.subscribers)
	r.subscribersMu.Unlock()

	var matched []string
	for filter := range snapshot {
		var re, err = r.compile(filter)
		if err != nil {
			log.WithFields(log.Fields{"err": err, "filter": filter}).Warn("skipping invalid filter")
			continue
		}
		if re.MatchString(message) {
			matched = append(matched, filter)
		}
	}
	if len(matched) == 0 {
		return 0
	}

	r.alertsMu.Lock()
	for _, filter := range matched {
		var set, ok = r.alerts[filter]
		if !ok {
			set = make(map[string]struct{})
			r.alerts[filter] = set
		}
		set[line] = struct{}{}
	}
	r.alertsMu.Unlock()

	metrics.AlertsRecordedTotal.Add(float64(len(matched)))

	if r.notifier != nil {
		for _, filter := range matched {
			go r.dispatch(alertSubject, alertBody(path, filter, line), snapshot[filter])
		}
	}
	return len(matched)
}

// NotifyQuota notifies quota subscribers that the store quota was reached.
// It's a no-op if no Notifier is wired.
func (r *Registry) NotifyQuota() {
	if r.notifier == nil {
		return
	}
	var to = r.QuotaSubscribers()
	if len(to) == 0 {
		return
	}
	go r.dispatch(quotaSubject, quotaMessage, to)
}

func (r *Registry) dispatch(subject, body string, to []string) {
	if err := r.notifier.Notify(context.Background(), subject, body, to); err != nil {
		metrics.NotificationsTotal.WithLabelValues(metrics.Fail).Inc()
		log.WithFields(log.Fields{"err": err, "to": to}).Warn("failed to deliver notification")
		return
	}
	metrics.NotificationsTotal.WithLabelValues(metrics.Ok).Inc()
}

func (r *Registry) compile(filter string) (*regexp.Regexp, error) {
	if re, ok := r.patterns.Get(filter); ok {
		return re.(*regexp.Regexp), nil
	}
	var re, err = regexp.Compile("^(?:" + filter + ")$")
	if err != nil {
		return nil, errors.Wrapf(err, "invalid filter %q", filter)
	}
	r.patterns.Add(filter, re)
	return re, nil
}

func alertBody(path, filter, line string) string {
	return fmt.Sprintf("Alert!\nApplication specification: %s\nFilter: %s\nMessage: %s\n",
		path, filter, line)
}

func copySets(m map[string]map[string]struct{}) map[string][]string {
	var out = make(map[string][]string, len(m))
	for key, set := range m {
		out[key] = sortedKeys(set)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	var out = make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
