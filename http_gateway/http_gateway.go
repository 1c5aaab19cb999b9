package http_gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/slivotov/GDLogTool/logstore"
	"github.com/slivotov/GDLogTool/metrics"
)

// Gateway presents an HTTP gateway to a log Store, by mapping requests of
// its routes into equivalent Store operations.
type Gateway struct {
	decoder *schema.Decoder
	store   *logstore.Store
	mux     *http.ServeMux
}

// NewGateway returns a Gateway serving the Store.
func NewGateway(store *logstore.Store) *Gateway {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	var h = &Gateway{
		decoder: decoder,
		store:   store,
		mux:     http.NewServeMux(),
	}
	h.handle(LogsRoute, h.serveLogs)
	h.handle(TreeRoute, h.serveTree)
	h.handle(SearchRoute, h.serveSearch)
	h.handle(SubscriptionsRoute, h.serveSubscriptions)
	h.handle(FiltersRoute, h.serveFilters)
	h.handle(AlertsRoute, h.serveAlerts)
	h.handle(QuotaSubscriptionsRoute, h.serveQuotaSubscriptions)

	return h
}

func (h *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Gateway) handle(route string, fn http.HandlerFunc) {
	// Routes ending in "/" are sub-tree patterns, matching the store path which follows.
	h.mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		var started = time.Now()
		metrics.GatewayRequestsTotal.WithLabelValues(route, r.Method).Inc()

		fn(w, r)

		metrics.GatewayResponseTimeSeconds.WithLabelValues(route).Observe(time.Since(started).Seconds())
	})
}

func (h *Gateway) serveLogs(w http.ResponseWriter, r *http.Request) {
	var path = storePath(r, LogsRoute)

	switch r.Method {
	case "PUT":
		var req struct {
			Timestamp string `schema:"timestamp,required"`
		}
		if err := h.decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		} else if len(path) == 0 {
			http.Error(w, "log path required", http.StatusBadRequest)
			return
		}

		var br = bufio.NewScanner(r.Body)
		br.Buffer(make([]byte, 0, 64<<10), maxMessageSize)

		for br.Scan() {
			if line := br.Text(); line != "" {
				h.store.Append(path, req.Timestamp, line)
			}
		}
		if err := br.Err(); err != nil {
			if r.Context().Err() == nil {
				log.WithField("err", err).Warn("http_gateway: failed to read append body")
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent) // 204.

	case "GET":
		var req struct {
			Name string `schema:"name,required"`
		}
		if err := h.decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, h.store.ReadLines(path, req.Name))

	case "DELETE":
		var req struct {
			Name string `schema:"name"`
		}
		if err := h.decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Name != "" {
			h.store.DeleteFile(path, req.Name)
		} else if len(path) != 0 {
			h.store.DeleteDirectory(path...)
		} else {
			http.Error(w, "refusing to delete the store root", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		unknownMethod(w, r)
	}
}

func (h *Gateway) serveTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		unknownMethod(w, r)
		return
	}
	var req struct {
		Depth *int `schema:"depth"`
	}
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var depth = -1
	if req.Depth != nil {
		depth = *req.Depth
	}
	if depth < -1 {
		http.Error(w, fmt.Sprintf("invalid depth: %d", depth), http.StatusBadRequest)
		return
	}

	var node, err = h.store.Tree(depth, storePath(r, TreeRoute)...)
	if errors.Is(err, logstore.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound) // 404.
		return
	} else if err != nil {
		log.WithField("err", err).Warn("http_gateway: failed to list tree")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, node)
}

func (h *Gateway) serveSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		unknownMethod(w, r)
		return
	}
	var req struct {
		Query string `schema:"q,required"`
	}
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result, err = h.store.Search(r.Context(), storePath(r, SearchRoute), req.Query)
	if r.Context().Err() != nil {
		// Request was aborted by client.
		http.Error(w, r.Context().Err().Error(), http.StatusRequestTimeout)
		return
	} else if err != nil {
		log.WithField("err", err).Warn("http_gateway: search failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func (h *Gateway) serveSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter string `schema:"filter"`
		Email  string `schema:"email"`
	}
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case "GET":
		writeJSON(w, h.store.Subscribers())
	case "PUT":
		if req.Filter == "" || req.Email == "" {
			http.Error(w, "filter and email are required", http.StatusBadRequest)
		} else if err := h.store.Subscribe(req.Filter, req.Email); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		} else {
			w.WriteHeader(http.StatusNoContent)
		}
	case "DELETE":
		h.store.Unsubscribe(req.Filter, req.Email)
		w.WriteHeader(http.StatusNoContent)
	default:
		unknownMethod(w, r)
	}
}

func (h *Gateway) serveFilters(w http.ResponseWriter, r *http.Request) {
	if r.Method != "DELETE" {
		unknownMethod(w, r)
		return
	}
	var req struct {
		Filter string `schema:"filter,required"`
	}
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.store.RemoveFilter(req.Filter)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Gateway) serveAlerts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter  string `schema:"filter"`
		Message string `schema:"message"`
	}
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case "GET":
		writeJSON(w, h.store.Alerts())
	case "DELETE":
		h.store.RemoveAlert(req.Filter, req.Message)
		w.WriteHeader(http.StatusNoContent)
	default:
		unknownMethod(w, r)
	}
}

func (h *Gateway) serveQuotaSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `schema:"email"`
	}
	if err := h.decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case "GET":
		writeJSON(w, h.store.QuotaSubscribers())
	case "PUT":
		if req.Email == "" {
			http.Error(w, "email is required", http.StatusBadRequest)
			return
		}
		h.store.SubscribeToQuotaAlert(req.Email)
		w.WriteHeader(http.StatusNoContent)
	case "DELETE":
		h.store.UnsubscribeToQuotaAlert(req.Email)
		w.WriteHeader(http.StatusNoContent)
	default:
		unknownMethod(w, r)
	}
}

func (h *Gateway) decode(r *http.Request, into interface{}) error {
	var q, err = url.ParseQuery(r.URL.RawQuery)
	if err == nil {
		err = h.decoder.Decode(into, q)
	}
	return err
}

// storePath returns the store path segments of the request which follow |route|.
func storePath(r *http.Request, route string) []string {
	var rest = strings.Trim(strings.TrimPrefix(r.URL.Path, route), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Warn("http_gateway: failed to write response")
	}
}

func unknownMethod(w http.ResponseWriter, r *http.Request) {
	http.Error(w, fmt.Sprintf("unknown method: %s", r.Method), http.StatusMethodNotAllowed)
}

const (
	LogsRoute               = "/logs/"
	TreeRoute               = "/tree/"
	SearchRoute             = "/search/"
	SubscriptionsRoute      = "/subscriptions"
	FiltersRoute            = "/filters"
	AlertsRoute             = "/alerts"
	QuotaSubscriptionsRoute = "/quota-subscriptions"

	maxMessageSize = 4 << 20
)
