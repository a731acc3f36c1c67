// Package metrics holds the Prometheus counters of a batch run and the
// handler that exposes them.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shipstats",
		Name:      "pages_fetched_total",
		Help:      "Listing pages requested from the archive.",
	})
	PageCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shipstats",
		Name:      "page_cache_hits_total",
		Help:      "Listing pages served from the local page cache.",
	})
	WorksParsed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shipstats",
		Name:      "works_parsed_total",
		Help:      "Work blurbs parsed from listing pages.",
	})
	FetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shipstats",
		Name:      "fetch_errors_total",
		Help:      "Listing page requests that failed.",
	})
	TagsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shipstats",
		Name:      "tags_completed_total",
		Help:      "Tags whose summary was appended to the output store.",
	})
	TagsResumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shipstats",
		Name:      "tags_resumed_total",
		Help:      "Tags skipped because the output store already has them.",
	})
	TagsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shipstats",
		Name:      "tags_failed_total",
		Help:      "Tags whose fetch failed.",
	})
)

var registerOnce sync.Once

// Init registers collectors; safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(PagesFetched, PageCacheHits, WorksParsed, FetchErrors,
			TagsCompleted, TagsResumed, TagsFailed)
	})
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a /metrics server on addr (e.g. ":9090"). Blocks; run in a goroutine.
func Serve(addr string) error {
	Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
