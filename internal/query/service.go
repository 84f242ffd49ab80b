package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound means no projected row matched the lookup.
var ErrNotFound = errors.New("query: not found")

// Service provides read-only access to the projection tables. Reads
// never touch the core; they are eventually consistent with it, and
// every response carries the projection watermark.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// RiskStatus returns the projected risk view of one bucket.
func (s *Service) RiskStatus(ctx context.Context, owner uuid.UUID, tokenID uint64) (*RiskStatusResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT risk_level, net_nav, frozen, liquidated, updated_at
		FROM projections.risk_status
		WHERE owner = $1 AND token_id = $2
	`, owner.String(), int64(tokenID))

	resp := RiskStatusResponse{Owner: owner, TokenID: tokenID, AsOfSequence: asOf}
	err = row.Scan(&resp.RiskLevel, &resp.NetNav, &resp.Frozen, &resp.Liquidated, &resp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: owner=%s token=%d", ErrNotFound, owner, tokenID)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// LiquidationHistory returns seizure episodes for one owner, newest
// first.
func (s *Service) LiquidationHistory(ctx context.Context, owner uuid.UUID, limit int) ([]LiquidationRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, owner, token_id, auction_id, keeper,
		       seized_claim, seized_value, underlying, keeper_reward,
		       payout, penalty, occurred_at, withdrawn_at
		FROM projections.liquidation_history
		WHERE owner = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, owner.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LiquidationRecord
	for rows.Next() {
		var r LiquidationRecord
		var ownerStr, auctionStr, keeperStr string
		var tokenID int64
		if err := rows.Scan(
			&r.Sequence, &ownerStr, &tokenID, &auctionStr, &keeperStr,
			&r.SeizedClaim, &r.SeizedValue, &r.Underlying, &r.KeeperReward,
			&r.Payout, &r.Penalty, &r.OccurredAt, &r.WithdrawnAt,
		); err != nil {
			return nil, err
		}
		r.Owner, _ = uuid.Parse(ownerStr)
		r.AuctionID, _ = uuid.Parse(auctionStr)
		r.Keeper, _ = uuid.Parse(keeperStr)
		r.TokenID = uint64(tokenID)
		records = append(records, r)
	}
	return records, rows.Err()
}

// AuctionTrades returns the fills of one auction in execution order.
func (s *Service) AuctionTrades(ctx context.Context, auctionID uuid.UUID) ([]AuctionTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, auction_id, buyer, recipient,
		       amount_bought, amount_paid, price, completed, occurred_at
		FROM projections.auction_trades
		WHERE auction_id = $1
		ORDER BY sequence ASC
	`, auctionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []AuctionTrade
	for rows.Next() {
		var t AuctionTrade
		var auctionStr, buyerStr, recipientStr string
		if err := rows.Scan(
			&t.Sequence, &auctionStr, &buyerStr, &recipientStr,
			&t.AmountBought, &t.AmountPaid, &t.Price, &t.Completed, &t.OccurredAt,
		); err != nil {
			return nil, err
		}
		t.AuctionID, _ = uuid.Parse(auctionStr)
		t.Buyer, _ = uuid.Parse(buyerStr)
		t.Recipient, _ = uuid.Parse(recipientStr)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Watermark returns the last projected sequence.
func (s *Service) Watermark(ctx context.Context) (int64, error) {
	return s.watermark(ctx)
}

func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows || (err == nil && !seq.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
