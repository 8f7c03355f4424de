package gitlab

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulseboard/pulseboard/internal/db"
)

const (
	// DefaultStaleAfter is how old a cached merge-request association may
	// get before the sync job refreshes it.
	DefaultStaleAfter = 15 * time.Minute

	// DefaultBatchSize caps how many stale rows one run processes. The
	// rest wait for the next scheduled invocation.
	DefaultBatchSize = 100
)

// ClientFactory builds an API client for a connection's credentials.
// Injectable so tests can point the syncer at a fake server.
type ClientFactory func(baseURL, token string) *Client

// Syncer refreshes stale merge-request associations by polling GitLab.
// It compensates for missed or delayed webhooks.
type Syncer struct {
	store      *db.Store
	newClient  ClientFactory
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
}

// NewSyncer creates a sync job. Zero staleAfter/batchSize fall back to the
// defaults.
func NewSyncer(store *db.Store, factory ClientFactory, staleAfter time.Duration, batchSize int, logger *slog.Logger) *Syncer {
	if factory == nil {
		factory = NewClient
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Syncer{
		store:      store,
		newClient:  factory,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Report summarizes one sync run.
type Report struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

// Run refreshes up to the batch cap of the stalest merge-request links.
// Associations are grouped by connection so one authenticated client serves
// every row sharing a connection. Failed rows are counted and keep their
// last_synced_at, leaving them eligible for the next run. Run never returns
// an error; it always completes and reports counts.
func (s *Syncer) Run(ctx context.Context) Report {
	var report Report

	cutoff := time.Now().UTC().Add(-s.staleAfter)
	stale, err := s.store.GetStaleMergeRequestLinks(cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("sync: failed to query stale links", "error", err)
		return report
	}
	if len(stale) == 0 {
		return report
	}

	// Group rows by connection
	groups := make(map[string][]db.StaleLink)
	var order []string
	for _, sl := range stale {
		if _, ok := groups[sl.ConnectionID]; !ok {
			order = append(order, sl.ConnectionID)
		}
		groups[sl.ConnectionID] = append(groups[sl.ConnectionID], sl)
	}

	for _, connID := range order {
		conn, found := s.store.GetConnection(connID)
		if !found {
			// Connection deleted between query and sync; its links
			// cascade away too, nothing to count.
			s.logger.Warn("sync: connection no longer exists", "connection", connID)
			continue
		}

		client := s.newClient(conn.BaseURL, conn.Token)
		for _, sl := range groups[connID] {
			if err := s.syncLink(ctx, client, sl); err != nil {
				report.Errors++
				s.logger.Error("sync: failed to refresh link",
					"link", sl.Link.ID,
					"iid", sl.Link.RemoteIID,
					"error", err)
				continue
			}
			report.Synced++
		}
	}

	s.logger.Info("sync run complete", "synced", report.Synced, "errors", report.Errors)
	return report
}

// syncLink refreshes one association from the remote. Merge-request fetch
// failures propagate; the pipeline lookup is optional enrichment and its
// failures are swallowed.
func (s *Syncer) syncLink(ctx context.Context, client *Client, sl db.StaleLink) error {
	mr, err := client.GetMergeRequest(ctx, sl.RemoteProjectID, sl.Link.RemoteIID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.store.RefreshLink(sl.Link.ID, mr.Title, mr.State, mr.WebURL, mr.Author.Name, mr.SourceBranch, sl.Link.Meta, now); err != nil {
		return err
	}

	if mr.SourceBranch != "" {
		pipeline, err := client.LatestPipeline(ctx, sl.RemoteProjectID, mr.SourceBranch)
		if err == nil && pipeline != nil {
			if err := s.store.SetLinkPipelineStatus(sl.Link.ID, pipeline.Status); err != nil {
				s.logger.Warn("sync: failed to store pipeline status", "link", sl.Link.ID, "error", err)
			}
		}
	}
	return nil
}
