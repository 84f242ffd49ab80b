package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"LevGuard/internal/observability"
	"LevGuard/internal/oracle"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// PriceSubscriber consumes oracle price updates from NATS JetStream and
// feeds them into the shared price cache. Risk and auction decisions
// never read NATS directly; they go through the cache behind an
// oracle.Guard.
type PriceSubscriber struct {
	js       jetstream.JetStream
	cache    *oracle.Cache
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

const (
	priceStream   = "LEV_PRICES"
	priceSubject  = "lev.prices.>"
	priceConsumer = "levguard-prices"
)

func NewPriceSubscriber(js jetstream.JetStream, cache *oracle.Cache, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		cache:   cache,
		metrics: metrics,
	}
}

// Subscribe creates the durable consumer and starts feeding the cache.
// Price messages are always ACKed: a malformed or outdated update is
// dropped, never redelivered, since the next tick supersedes it anyway.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, priceStream, jetstream.ConsumerConfig{
		Durable:       priceConsumer,
		FilterSubject: priceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    1,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", priceConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()

		update, err := ParsePriceUpdate(msg.Data())
		if err != nil {
			if ps.metrics != nil {
				ps.metrics.PriceParseErrors.Inc()
			}
			log.Printf("WARN: dropped malformed price message on %s: %v", msg.Subject(), err)
			return
		}

		ps.cache.Update(update.Quote())
		if ps.metrics != nil {
			ps.metrics.PriceUpdates.Inc()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", priceConsumer, err)
	}

	ps.consumer = cc
	log.Printf("INFO: subscribed to %s (consumer=%s)", priceSubject, priceConsumer)
	return nil
}

// Stop gracefully stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	log.Println("INFO: price subscriber stopped")
}

// EnsurePriceStream creates the price stream if it does not exist.
// Prices are high-churn so the stream keeps only a short window.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      priceStream,
		Subjects:  []string{priceSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", priceStream, err)
	}
	log.Printf("INFO: ensured stream %s", priceStream)
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
