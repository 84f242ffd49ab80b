package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"LevGuard/internal/core"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes applied events to NATS for downstream
// consumers (keeper fleets, dashboards). Publishing is best-effort:
// the durable record is the Postgres event log, and a consumer that
// misses a message can query it directly.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
}

const (
	outboundStream        = "LEV_RISK_EVENTS"
	outboundSubjectPrefix = "lev.risk.events"
)

// outboundJSON is the published wire format.
type outboundJSON struct {
	Sequence  int64           `json:"sequence"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	TokenID   uint64          `json:"token_id"`
	Owner     string          `json:"owner"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.Output) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", out.Envelope.Sequence, err)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.Output) error {
	env := out.Envelope
	data, err := json.Marshal(outboundJSON{
		Sequence:  env.Sequence,
		EventID:   env.EventID.String(),
		EventType: env.Type.String(),
		TokenID:   env.TokenID,
		Owner:     env.Owner.String(),
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", outboundSubjectPrefix, env.Type)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      outboundStream,
		Subjects:  []string{outboundSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Printf("INFO: ensured outbound stream %s", outboundStream)
	return nil
}
