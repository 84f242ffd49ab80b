package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"LevGuard/internal/core"
	"LevGuard/internal/event"
)

// Worker updates projection tables from applied events. It consumes
// the core's projection channel, which uses non-blocking sends: if
// this worker falls behind, events are dropped here and the tables are
// rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.Output
}

func NewWorker(db *sql.DB, inputChan <-chan core.Output) *Worker {
	return &Worker{db: db, inputChan: inputChan}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, out.Envelope); err != nil {
				// Projections are eventually consistent; a failed
				// update is recovered by rebuild, not retry.
				log.Printf("WARN: projection update failed at seq=%d: %v", out.Envelope.Sequence, err)
			}
		}
	}
}

// Apply projects one envelope into the query tables.
func (pw *Worker) Apply(ctx context.Context, env *event.Envelope) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch env.Type {
	case event.TypeRiskLevelUpdated:
		err = pw.applyRiskLevel(ctx, tx, env)
	case event.TypePositionSeized:
		err = pw.applySeizure(ctx, tx, env)
	case event.TypeAuctionPurchase:
		err = pw.applyPurchase(ctx, tx, env)
	case event.TypeLiquidationSettled:
		err = pw.applySettlement(ctx, tx, env)
	case event.TypeStableWithdrawn:
		err = pw.applyWithdrawal(ctx, tx, env)
	default:
		// Resets, adjustments and config changes are served from the
		// event log directly.
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *Worker) applyRiskLevel(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	var p event.RiskLevelUpdated
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.risk_status (owner, token_id, risk_level, net_nav, frozen, liquidated, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, FALSE, $5, $6)
		ON CONFLICT (owner, token_id) DO UPDATE SET
			risk_level = $3, net_nav = $4, last_sequence = $5, updated_at = $6
	`, p.Owner.String(), int64(p.TokenID), p.RiskLevel, p.NetNav.String(), env.Sequence, env.Timestamp)
	return err
}

func (pw *Worker) applySeizure(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	var p event.PositionSeized
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.risk_status (owner, token_id, risk_level, net_nav, frozen, liquidated, last_sequence, updated_at)
		VALUES ($1, $2, 4, '0', TRUE, FALSE, $3, $4)
		ON CONFLICT (owner, token_id) DO UPDATE SET
			risk_level = 4, frozen = TRUE, last_sequence = $3, updated_at = $4
	`, p.Owner.String(), int64(p.TokenID), env.Sequence, env.Timestamp); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, owner, token_id, auction_id, keeper, seized_claim, seized_value, underlying, keeper_reward, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, p.Owner.String(), int64(p.TokenID), p.AuctionID.String(), p.Keeper.String(),
		p.SeizedClaim.String(), p.SeizedValue.String(), p.Underlying.String(), p.KeeperReward.String(), env.Timestamp)
	return err
}

func (pw *Worker) applyPurchase(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	var p event.AuctionPurchase
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.auction_trades
			(sequence, auction_id, buyer, recipient, amount_bought, amount_paid, price, completed, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, p.AuctionID.String(), p.Buyer.String(), p.Recipient.String(),
		p.AmountBought.String(), p.AmountPaid.String(), p.Price.String(), p.Completed, env.Timestamp)
	return err
}

func (pw *Worker) applySettlement(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	var p event.LiquidationSettled
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.risk_status
		SET liquidated = TRUE, last_sequence = $3, updated_at = $4
		WHERE owner = $1 AND token_id = $2
	`, p.Owner.String(), int64(p.TokenID), env.Sequence, env.Timestamp)
	return err
}

func (pw *Worker) applyWithdrawal(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	var p event.StableWithdrawn
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.liquidation_history
		SET payout = $3, penalty = $4, withdrawn_at = $5
		WHERE owner = $1 AND token_id = $2 AND withdrawn_at IS NULL
	`, p.Owner.String(), int64(p.TokenID), p.Payout.String(), p.Penalty.String(), env.Timestamp)
	return err
}
