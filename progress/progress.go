// Package progress implements the periodic progress reporter spec.md
// §4.7 treats as a driver collaborator: a 1-second ticker samples the
// pull's counters and publishes a snapshot, grounded on the teacher's
// metrics/output.Output (periodic ticker over registered collectors) but
// feeding prometheus gauges instead of printing a collector's Output.
package progress

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Snapshot is the published state of one pull at one point in time,
// matching spec.md §4.7's field list plus the byte-accounting and delta
// fields SPEC_FULL.md §4A adds.
type Snapshot struct {
	OutstandingMetaFetches    int64
	OutstandingContentFetches int64
	OutstandingMetaWrites     int64
	OutstandingContentWrites  int64
	OutstandingDeltaPartWrites int64

	RequestedMeta    int64
	RequestedContent int64
	FetchedMeta      int64
	FetchedContent   int64
	ScannedMeta      int64

	DeltaPartsFetched  int64
	DeltaPartsTotal    int64
	TotalDeltaPartSize int64

	BytesTransferred uint64
	StatusURI        string
	StatusActive     bool
}

// Source supplies the reporter with a fresh Snapshot on every tick.
type Source interface {
	Snapshot() Snapshot
}

// Reporter is the 1-second high-priority timer of spec.md §4.7.
type Reporter struct {
	log      zerolog.Logger
	source   Source
	interval time.Duration
	start    time.Time

	done chan struct{}
	wg   sync.WaitGroup

	gaugeOutstandingFetches  *prometheus.GaugeVec
	gaugeOutstandingWrites   *prometheus.GaugeVec
	gaugeObjectCounts        *prometheus.GaugeVec
	gaugeBytesTransferred    prometheus.Gauge
}

// New builds a Reporter. interval is normally one second, per spec.md
// §4.7; tests pass a shorter interval.
func New(log zerolog.Logger, registry *prometheus.Registry, source Source, interval time.Duration) *Reporter {
	r := Reporter{
		log:      log.With().Str("component", "progress").Logger(),
		source:   source,
		interval: interval,
		done:     make(chan struct{}),

		gaugeOutstandingFetches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbor_pull",
			Name:      "outstanding_fetches",
			Help:      "Number of in-flight object fetches by class.",
		}, []string{"class"}),
		gaugeOutstandingWrites: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbor_pull",
			Name:      "outstanding_writes",
			Help:      "Number of in-flight object writes by class.",
		}, []string{"class"}),
		gaugeObjectCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbor_pull",
			Name:      "object_counts",
			Help:      "Requested, fetched and scanned object counts by class.",
		}, []string{"class", "stage"}),
		gaugeBytesTransferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbor_pull",
			Name:      "bytes_transferred",
			Help:      "Cumulative response bytes read from the remote.",
		}),
	}
	if registry != nil {
		registry.MustRegister(r.gaugeOutstandingFetches, r.gaugeOutstandingWrites, r.gaugeObjectCounts, r.gaugeBytesTransferred)
	}
	return &r
}

// Run starts the reporter's background loop.
func (r *Reporter) Run() {
	r.start = time.Now()
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the reporter and publishes one final snapshot.
func (r *Reporter) Stop() {
	close(r.done)
	r.wg.Wait()
}

func (r *Reporter) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			r.publish()
			return
		case <-ticker.C:
			r.publish()
		}
	}
}

func (r *Reporter) publish() {
	snap := r.source.Snapshot()

	r.gaugeOutstandingFetches.WithLabelValues("metadata").Set(float64(snap.OutstandingMetaFetches))
	r.gaugeOutstandingFetches.WithLabelValues("content").Set(float64(snap.OutstandingContentFetches))
	r.gaugeOutstandingWrites.WithLabelValues("metadata").Set(float64(snap.OutstandingMetaWrites))
	r.gaugeOutstandingWrites.WithLabelValues("content").Set(float64(snap.OutstandingContentWrites))
	r.gaugeOutstandingWrites.WithLabelValues("delta-part").Set(float64(snap.OutstandingDeltaPartWrites))

	r.gaugeObjectCounts.WithLabelValues("metadata", "requested").Set(float64(snap.RequestedMeta))
	r.gaugeObjectCounts.WithLabelValues("content", "requested").Set(float64(snap.RequestedContent))
	r.gaugeObjectCounts.WithLabelValues("metadata", "fetched").Set(float64(snap.FetchedMeta))
	r.gaugeObjectCounts.WithLabelValues("content", "fetched").Set(float64(snap.FetchedContent))
	r.gaugeObjectCounts.WithLabelValues("metadata", "scanned").Set(float64(snap.ScannedMeta))
	r.gaugeObjectCounts.WithLabelValues("delta-part", "fetched").Set(float64(snap.DeltaPartsFetched))
	r.gaugeObjectCounts.WithLabelValues("delta-part", "total").Set(float64(snap.DeltaPartsTotal))

	r.gaugeBytesTransferred.Set(float64(snap.BytesTransferred))

	event := r.log.Info().
		Dur("elapsed", time.Since(r.start)).
		Int64("outstanding_meta_fetches", snap.OutstandingMetaFetches).
		Int64("outstanding_content_fetches", snap.OutstandingContentFetches).
		Int64("fetched_meta", snap.FetchedMeta).
		Int64("fetched_content", snap.FetchedContent).
		Int64("scanned_meta", snap.ScannedMeta).
		Uint64("bytes_transferred", snap.BytesTransferred)
	if snap.StatusActive {
		event = event.Str("status_uri", snap.StatusURI)
	}
	event.Msg("pull progress")
}
