package idtag

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
)

// SpannerStore implements Store against a Cloud Spanner database, the second
// idTag backend alongside PostgresStore. Grounded on the teacher's
// internal/reputation/spanner.go SpannerWallet: same dbPath construction,
// same stale-read-for-queries split, with writes applied as client.Apply
// mutations. The
// expected schema carries an IdTags(IdTag STRING, SortOrder INT64) table and
// an IdTagUsage(IdTag, StationHashID, Outcome, UsedAt) table.
type SpannerStore struct {
	client *spanner.Client
}

// NewSpannerStore creates a Store backed by Spanner, dialing
// projects/<project>/instances/<instance>/databases/<database>.
func NewSpannerStore(ctx context.Context, project, instance, database string) (*SpannerStore, error) {
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, database)
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("idtag: spanner client: %w", err)
	}
	return &SpannerStore{client: client}, nil
}

// LoadIdTags reads every row from IdTags in SortOrder, via a bounded-stale
// read since the pool changes rarely and a few seconds of staleness is an
// acceptable tradeoff against a strong read on every fleet boot.
func (s *SpannerStore) LoadIdTags(ctx context.Context) ([]string, error) {
	stmt := spanner.Statement{SQL: `SELECT IdTag FROM IdTags ORDER BY SortOrder`}
	roTx := s.client.ReadOnlyTransaction().WithTimestampBound(spanner.MaxStaleness(15 * time.Second))
	defer roTx.Close()

	iter := roTx.Query(ctx, stmt)
	defer iter.Stop()

	var tags []string
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("idtag: spanner query IdTags: %w", err)
		}
		var tag string
		if err := row.Columns(&tag); err != nil {
			return nil, fmt.Errorf("idtag: spanner scan IdTag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// RecordUsage inserts one usage row per call; IdTagUsage has no natural key
// to upsert against, matching the teacher's ReputationAudit append-only log.
func (s *SpannerStore) RecordUsage(ctx context.Context, tag, stationHashID, outcome string) error {
	_, err := s.client.Apply(ctx, []*spanner.Mutation{
		spanner.Insert("IdTagUsage",
			[]string{"IdTag", "StationHashID", "Outcome", "UsedAt"},
			[]interface{}{tag, stationHashID, outcome, spanner.CommitTimestamp},
		),
	})
	if err != nil {
		return fmt.Errorf("idtag: spanner record usage: %w", err)
	}
	return nil
}

// Close releases the Spanner client's session pool.
func (s *SpannerStore) Close() error {
	s.client.Close()
	return nil
}
