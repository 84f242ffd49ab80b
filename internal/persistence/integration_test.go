package persistence_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"LevGuard/internal/event"
	"LevGuard/internal/fixedpoint"
	"LevGuard/internal/persistence"
	"LevGuard/internal/projection"
	"LevGuard/internal/query"
	"LevGuard/internal/testutil"

	"github.com/google/uuid"
)

func envelope(t *testing.T, seq int64, typ event.Type, owner uuid.UUID, tokenID uint64, payload interface{}) *event.Envelope {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return &event.Envelope{
		Sequence:  seq,
		EventID:   uuid.New(),
		Type:      typ,
		TokenID:   tokenID,
		Owner:     owner,
		Timestamp: time.Unix(1_700_000_000+seq, 0).UTC(),
		Payload:   body,
	}
}

func TestEventLog_WriteAndReplay(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewEventLogWriter(db)
	owner := uuid.New()

	rows := []persistence.EventRow{
		persistence.RowFromEnvelope(envelope(t, 1, event.TypeRiskLevelUpdated, owner, 7, event.RiskLevelUpdated{
			Owner: owner, TokenID: 7, NetNav: fixedpoint.MustParse("0.5"), RiskLevel: 3,
		})),
		persistence.RowFromEnvelope(envelope(t, 2, event.TypePositionSeized, owner, 7, event.PositionSeized{
			Owner: owner, TokenID: 7, AuctionID: uuid.New(), Keeper: uuid.New(),
			SeizedClaim: fixedpoint.FromInt(8), SeizedValue: fixedpoint.MustParse("0.5"),
			Underlying: fixedpoint.MustParse("0.016"), KeeperReward: fixedpoint.FromInt(1),
		})),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteEventBatch(ctx, tx, rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	// Replaying the same batch must be a no-op.
	if err := writer.WriteEventBatch(ctx, tx, rows); err != nil {
		t.Fatalf("replay batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	seq, err := writer.LatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 2 {
		t.Errorf("latest sequence: got %d, want 2", seq)
	}

	loaded, err := writer.LoadEventsFrom(ctx, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d events, want 2", len(loaded))
	}
	if loaded[0].EventType != "RiskLevelUpdated" || loaded[1].EventType != "PositionSeized" {
		t.Errorf("event types: %s, %s", loaded[0].EventType, loaded[1].EventType)
	}
}

func TestProjection_ApplyAndQuery(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	worker := projection.NewWorker(db, nil)
	qs := query.NewService(db)

	owner := uuid.New()
	auctionID := uuid.New()

	envs := []*event.Envelope{
		envelope(t, 1, event.TypeRiskLevelUpdated, owner, 7, event.RiskLevelUpdated{
			Owner: owner, TokenID: 7, NetNav: fixedpoint.MustParse("0.25"), RiskLevel: 4,
		}),
		envelope(t, 2, event.TypePositionSeized, owner, 7, event.PositionSeized{
			Owner: owner, TokenID: 7, AuctionID: auctionID, Keeper: uuid.New(),
			SeizedClaim: fixedpoint.FromInt(8), SeizedValue: fixedpoint.MustParse("0.5"),
			Underlying: fixedpoint.MustParse("0.016"), KeeperReward: fixedpoint.FromInt(1),
		}),
		envelope(t, 3, event.TypeAuctionPurchase, owner, 7, event.AuctionPurchase{
			AuctionID: auctionID, Buyer: uuid.New(), Recipient: uuid.New(),
			AmountBought: fixedpoint.MustParse("0.016"), AmountPaid: fixedpoint.MustParse("0.528"),
			Price: fixedpoint.FromInt(33), Completed: true,
		}),
		envelope(t, 4, event.TypeLiquidationSettled, owner, 7, event.LiquidationSettled{
			Owner: owner, TokenID: 7, AuctionID: auctionID, TotalProceeds: fixedpoint.MustParse("0.528"),
		}),
	}
	for _, env := range envs {
		if err := worker.Apply(ctx, env); err != nil {
			t.Fatalf("apply seq %d: %v", env.Sequence, err)
		}
	}

	st, err := qs.RiskStatus(ctx, owner, 7)
	if err != nil {
		t.Fatal(err)
	}
	if st.RiskLevel != 4 || !st.Frozen || !st.Liquidated {
		t.Errorf("projected status: level=%d frozen=%v liquidated=%v", st.RiskLevel, st.Frozen, st.Liquidated)
	}
	if st.AsOfSequence != 4 {
		t.Errorf("as_of_sequence: got %d, want 4", st.AsOfSequence)
	}

	history, err := qs.LiquidationHistory(ctx, owner, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history: got %d records, want 1", len(history))
	}
	if history[0].AuctionID != auctionID {
		t.Errorf("history auction: got %s, want %s", history[0].AuctionID, auctionID)
	}

	trades, err := qs.AuctionTrades(ctx, auctionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || !trades[0].Completed {
		t.Fatalf("trades: %+v", trades)
	}
}
