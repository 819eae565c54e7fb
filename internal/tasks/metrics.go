package tasks

import (
	"errors"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine activity. A nil *Metrics records nothing.
type Metrics struct {
	Searches          *prometheus.CounterVec
	Retries           *prometheus.CounterVec
	LeaseAcquisitions *prometheus.CounterVec
	Syncs             *prometheus.CounterVec
	TracksAdded       *prometheus.CounterVec
}

// NewMetrics creates the engine counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundsync",
			Name:      "searches_total",
			Help:      "Platform searches by outcome.",
		}, []string{"platform", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundsync",
			Name:      "search_retries_total",
			Help:      "Search retries by reason.",
		}, []string{"platform", "reason"}),
		LeaseAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundsync",
			Name:      "lease_acquisitions_total",
			Help:      "Sync lease acquisition attempts by outcome.",
		}, []string{"platform", "outcome"}),
		Syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundsync",
			Name:      "playlist_syncs_total",
			Help:      "Playlist syncs by outcome.",
		}, []string{"platform", "outcome"}),
		TracksAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roundsync",
			Name:      "tracks_added_total",
			Help:      "Tracks appended to native playlists.",
		}, []string{"platform"}),
	}
	if reg != nil {
		reg.MustRegister(m.Searches, m.Retries, m.LeaseAcquisitions, m.Syncs, m.TracksAdded)
	}
	return m
}

func (m *Metrics) search(p models.Platform, r *models.MatchResult, err error) {
	if m == nil {
		return
	}
	outcome := "matched"
	switch {
	case err != nil:
		outcome = string(reasonFor(err))
	case !r.Resolved():
		outcome = string(models.NoMatch)
	}
	m.Searches.WithLabelValues(string(p), outcome).Inc()
}

func (m *Metrics) retry(p models.Platform, reason models.UnresolvedReason) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(string(p), string(reason)).Inc()
}

func (m *Metrics) lease(p models.Platform, err error) {
	if m == nil {
		return
	}
	outcome := "acquired"
	switch {
	case errors.Is(err, shared.ErrLeaseHeld):
		outcome = "held"
	case err != nil:
		outcome = "error"
	}
	m.LeaseAcquisitions.WithLabelValues(string(p), outcome).Inc()
}

func (m *Metrics) sync(p models.Platform, added int, err error) {
	if m == nil {
		return
	}
	outcome := "synced"
	if err != nil {
		outcome = "failed"
	}
	m.Syncs.WithLabelValues(string(p), outcome).Inc()
	m.TracksAdded.WithLabelValues(string(p)).Add(float64(added))
}
