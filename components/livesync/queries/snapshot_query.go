package queries

import (
	"context"

	gocommand "github.com/goliatone/go-command"

	"github.com/goliatone/go-livedash/components/livesync"
)

// SnapshotRequest selects which part of the snapshot to return. An empty
// Topic returns everything.
type SnapshotRequest struct {
	Topic string `json:"topic,omitempty"`
}

type snapshotSource interface {
	Snapshot() livesync.Snapshot
}

// SnapshotQuery reads the synchronizer's current view.
type SnapshotQuery struct {
	source snapshotSource
}

// NewSnapshotQuery builds the query.
func NewSnapshotQuery(source snapshotSource) *SnapshotQuery {
	return &SnapshotQuery{source: source}
}

var _ gocommand.Querier[SnapshotRequest, livesync.Snapshot] = (*SnapshotQuery)(nil)

// Query returns the snapshot, trimmed to req.Topic when set.
func (q *SnapshotQuery) Query(_ context.Context, req SnapshotRequest) (livesync.Snapshot, error) {
	snap := q.source.Snapshot()
	if req.Topic == "" {
		return snap, nil
	}
	data := snap.Data
	snap.Data = livesync.DashboardData{}
	switch topic := livesync.NormalizeTopic(req.Topic); topic {
	case livesync.TopicStats:
		snap.Data.Stats = data.Stats
	case livesync.TopicPerformance:
		snap.Data.Performance = data.Performance
	case livesync.TopicProviders:
		snap.Data.Providers = data.Providers
	default:
		return livesync.Snapshot{}, &livesync.UnknownTopicError{Topic: req.Topic}
	}
	return snap, nil
}
