package changelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
	"example.com/healthstore/internal/storage"
)

func newTestLog(t *testing.T, visible domain.VisibilityPredicate) (*Log, *storage.Engine) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, "sqlite:file:"+filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	engine := storage.NewEngine(db)
	return NewLog(engine, visible), engine
}

func stepsRecord(origin, clientID string, start time.Time, count int64) *datatypes.Record {
	return &datatypes.Record{
		Type: datatypes.TypeSteps,
		Metadata: datatypes.Metadata{
			ClientRecordID: clientID,
			Origin:         datatypes.DataOrigin{PackageName: origin},
		},
		Interval: &datatypes.IntervalAnchor{StartTime: start, EndTime: start.Add(time.Hour)},
		Payload:  datatypes.Steps{Count: count},
	}
}

func TestTokenBaselineExcludesExistingRecords(t *testing.T) {
	log, engine := newTestLog(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.July, 1, 8, 0, 0, 0, time.UTC)

	_, err := engine.UpsertRecords(ctx, []*datatypes.Record{
		stepsRecord("com.example.tracker", "before", start, 100),
	})
	require.NoError(t, err)

	token, err := log.GetToken(ctx, domain.TokenRequest{
		RecordTypes: []datatypes.RecordType{datatypes.TypeSteps},
	})
	require.NoError(t, err)

	page, err := log.ReadChanges(ctx, token, 100)
	require.NoError(t, err)
	require.Empty(t, page.Upserted)
	require.Empty(t, page.DeletedUUIDs)
	require.False(t, page.HasMore)
	require.Equal(t, token, page.NextToken, "an empty window keeps the same token")
}

func TestReadChangesReportsUpsertsAfterToken(t *testing.T) {
	log, engine := newTestLog(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC)

	token, err := log.GetToken(ctx, domain.TokenRequest{
		RecordTypes: []datatypes.RecordType{datatypes.TypeSteps},
	})
	require.NoError(t, err)

	ids, err := engine.UpsertRecords(ctx, []*datatypes.Record{
		stepsRecord("com.example.tracker", "a", start, 100),
		stepsRecord("com.example.tracker", "b", start.Add(2*time.Hour), 200),
	})
	require.NoError(t, err)

	page, err := log.ReadChanges(ctx, token, 100)
	require.NoError(t, err)
	require.Len(t, page.Upserted, 2)
	require.Empty(t, page.DeletedUUIDs)
	require.False(t, page.HasMore)
	require.NotEqual(t, token, page.NextToken)

	seen := map[string]bool{}
	for _, rec := range page.Upserted {
		seen[rec.Metadata.UUID.String()] = true
	}
	require.True(t, seen[ids[0].String()])
	require.True(t, seen[ids[1].String()])

	// Replaying the advanced token yields nothing new.
	next, err := log.ReadChanges(ctx, page.NextToken, 100)
	require.NoError(t, err)
	require.Empty(t, next.Upserted)
}

func TestReadChangesDeleteSupersedesUpsert(t *testing.T) {
	log, engine := newTestLog(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.July, 3, 8, 0, 0, 0, time.UTC)

	token, err := log.GetToken(ctx, domain.TokenRequest{
		RecordTypes: []datatypes.RecordType{datatypes.TypeSteps},
	})
	require.NoError(t, err)

	ids, err := engine.UpsertRecords(ctx, []*datatypes.Record{
		stepsRecord("com.example.tracker", "gone", start, 100),
	})
	require.NoError(t, err)
	_, err = engine.DeleteByIDs(ctx, datatypes.TypeSteps, ids)
	require.NoError(t, err)

	page, err := log.ReadChanges(ctx, token, 100)
	require.NoError(t, err)
	require.Empty(t, page.Upserted, "a record deleted within the window is reported only as deleted")
	require.Len(t, page.DeletedUUIDs, 1)
	require.Equal(t, ids[0], page.DeletedUUIDs[0])
}

func TestReadChangesDedupesRepeatedUpserts(t *testing.T) {
	log, engine := newTestLog(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.July, 4, 8, 0, 0, 0, time.UTC)

	token, err := log.GetToken(ctx, domain.TokenRequest{
		RecordTypes: []datatypes.RecordType{datatypes.TypeSteps},
	})
	require.NoError(t, err)

	for _, count := range []int64{100, 200, 300} {
		_, err := engine.UpsertRecords(ctx, []*datatypes.Record{
			stepsRecord("com.example.tracker", "same", start, count),
		})
		require.NoError(t, err)
	}

	page, err := log.ReadChanges(ctx, token, 100)
	require.NoError(t, err)
	require.Len(t, page.Upserted, 1)
	require.Equal(t, datatypes.Steps{Count: 300}, page.Upserted[0].Payload)
}

func TestReadChangesPagesInLogOrder(t *testing.T) {
	log, engine := newTestLog(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.July, 5, 8, 0, 0, 0, time.UTC)

	token, err := log.GetToken(ctx, domain.TokenRequest{
		RecordTypes: []datatypes.RecordType{datatypes.TypeSteps},
	})
	require.NoError(t, err)

	var want []int64
	for i := int64(0); i < 3; i++ {
		_, err := engine.UpsertRecords(ctx, []*datatypes.Record{
			stepsRecord("com.example.tracker", "", start.Add(time.Duration(i)*time.Hour), i),
		})
		require.NoError(t, err)
		want = append(want, i)
	}

	var got []int64
	for {
		page, err := log.ReadChanges(ctx, token, 1)
		require.NoError(t, err)
		for _, rec := range page.Upserted {
			got = append(got, rec.Payload.(datatypes.Steps).Count)
		}
		token = page.NextToken
		if !page.HasMore {
			break
		}
	}
	require.Equal(t, want, got, "pages must replay in commit order")
}

func TestReadChangesReplaysUpsertsInCommitOrder(t *testing.T) {
	log, engine := newTestLog(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.July, 8, 8, 0, 0, 0, time.UTC)

	token, err := log.GetToken(ctx, domain.TokenRequest{
		RecordTypes: []datatypes.RecordType{datatypes.TypeSteps},
	})
	require.NoError(t, err)

	// The first commit carries the lexicographically larger UUID, so any
	// UUID-ordered fetch would flip the pair.
	first := stepsRecord("com.example.tracker", "", start, 1)
	first.Metadata.UUID = uuid.MustParse("ffffffff-ffff-4fff-8fff-ffffffffffff")
	second := stepsRecord("com.example.tracker", "", start.Add(time.Hour), 2)
	second.Metadata.UUID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

	_, err = engine.UpsertRecords(ctx, []*datatypes.Record{first})
	require.NoError(t, err)
	_, err = engine.UpsertRecords(ctx, []*datatypes.Record{second})
	require.NoError(t, err)

	page, err := log.ReadChanges(ctx, token, 100)
	require.NoError(t, err)
	require.Len(t, page.Upserted, 2)
	require.Equal(t, datatypes.Steps{Count: 1}, page.Upserted[0].Payload, "the earlier commit must be reported first")
	require.Equal(t, datatypes.Steps{Count: 2}, page.Upserted[1].Payload)
}

func TestReadChangesHonorsTypeFilter(t *testing.T) {
	log, engine := newTestLog(t, nil)
	ctx := context.Background()
	start := time.Date(2025, time.July, 6, 8, 0, 0, 0, time.UTC)

	token, err := log.GetToken(ctx, domain.TokenRequest{
		RecordTypes: []datatypes.RecordType{datatypes.TypeHeight},
	})
	require.NoError(t, err)

	_, err = engine.UpsertRecords(ctx, []*datatypes.Record{
		stepsRecord("com.example.tracker", "", start, 100),
	})
	require.NoError(t, err)
	_, err = engine.UpsertRecords(ctx, []*datatypes.Record{{
		Type: datatypes.TypeHeight,
		Metadata: datatypes.Metadata{
			Origin: datatypes.DataOrigin{PackageName: "com.example.tracker"},
		},
		Instant: &datatypes.InstantAnchor{Time: start},
		Payload: datatypes.Height{Meters: 1.75},
	}})
	require.NoError(t, err)

	page, err := log.ReadChanges(ctx, token, 100)
	require.NoError(t, err)
	require.Len(t, page.Upserted, 1)
	require.Equal(t, datatypes.TypeHeight, page.Upserted[0].Type)
}

func TestReadChangesSkipsInvisibleOriginsWithoutStalling(t *testing.T) {
	visible := func(origin string) bool { return origin == "com.example.tracker" }
	log, engine := newTestLog(t, visible)
	ctx := context.Background()
	start := time.Date(2025, time.July, 7, 8, 0, 0, 0, time.UTC)

	token, err := log.GetToken(ctx, domain.TokenRequest{
		RecordTypes: []datatypes.RecordType{datatypes.TypeSteps},
	})
	require.NoError(t, err)

	// Two invisible entries precede the visible one; a pageSize of 1 must
	// still make progress through them.
	for i := int64(0); i < 2; i++ {
		_, err := engine.UpsertRecords(ctx, []*datatypes.Record{
			stepsRecord("com.hidden.app", "", start.Add(time.Duration(i)*time.Hour), i),
		})
		require.NoError(t, err)
	}
	_, err = engine.UpsertRecords(ctx, []*datatypes.Record{
		stepsRecord("com.example.tracker", "", start.Add(5*time.Hour), 42),
	})
	require.NoError(t, err)

	var got []int64
	for {
		page, err := log.ReadChanges(ctx, token, 1)
		require.NoError(t, err)
		for _, rec := range page.Upserted {
			got = append(got, rec.Payload.(datatypes.Steps).Count)
		}
		token = page.NextToken
		if !page.HasMore {
			break
		}
	}
	require.Equal(t, []int64{42}, got)
}

func TestReadChangesRejectsBadTokens(t *testing.T) {
	log, _ := newTestLog(t, nil)
	ctx := context.Background()

	_, err := log.ReadChanges(ctx, "garbage", 10)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	// Structurally valid but never issued.
	_, err = log.ReadChanges(ctx, encodeToken(999999), 10)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTokenRoundTrip(t *testing.T) {
	token := encodeToken(42)
	id, err := decodeToken(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = decodeToken("")
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}
