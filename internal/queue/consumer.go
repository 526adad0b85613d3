package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/identity"
	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

// ResultConsumer feeds completed diagnostic results into the fee bridge. It
// declares the durable result queue and keeps consuming with a reconnect
// backoff until the context is cancelled. Malformed messages are rejected
// without requeue so a bad payload cannot wedge the queue.
type ResultConsumer struct {
	url        string
	bridge     *scheduling.FeeBridge
	defaultFee float64
	log        zerolog.Logger
}

func NewResultConsumer(url string, bridge *scheduling.FeeBridge, defaultFee float64, log zerolog.Logger) *ResultConsumer {
	return &ResultConsumer{
		url:        url,
		bridge:     bridge,
		defaultFee: defaultFee,
		log:        log.With().Str("component", "result_consumer").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (c *ResultConsumer) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("broker dial failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.consumeLoop(ctx, conn); err != nil {
			_ = conn.Close()
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.log.Warn().Err(err).Msg("consume loop ended, reconnecting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (c *ResultConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(20, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	if _, err := ch.QueueDeclare(ResultQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(ResultQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.log.Error().Err(err).Msg("handle result event failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *ResultConsumer) handle(ctx context.Context, body []byte) error {
	var ev ResultCompletedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal result event: %w", err)
	}
	if ev.RequestID <= 0 || ev.PatientID <= 0 || ev.ProviderID <= 0 {
		return fmt.Errorf("result event %d missing patient or provider", ev.RequestID)
	}

	fee := ev.Fee
	if fee <= 0 {
		fee = c.defaultFee
	}
	completedAt := time.Now()
	if ev.CompletedAt != nil {
		completedAt = *ev.CompletedAt
	}

	actor := identity.Actor{ID: ev.RadiologistID, Role: identity.RoleRadiologist}

	handleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.bridge.OnResultCompleted(handleCtx, actor, ev.RequestID, ev.PatientID, ev.ProviderID, fee, completedAt)
}
