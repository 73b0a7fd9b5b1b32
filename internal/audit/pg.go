package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/ariefcatur/go-shop-fulfillment/internal/kafka"
)

// PGWriter persists transition events into the audit table. Used by auditd
// as the consumer handler; also usable directly as a Recorder when Kafka is
// not configured.
type PGWriter struct {
	DB  *pgxpool.Pool
	Log *logrus.Entry
}

func (w *PGWriter) RecordTransition(ctx context.Context, orderID string, actorID int64, from, to string, extra map[string]any) error {
	var ctxJSON []byte
	if extra != nil {
		b, err := json.Marshal(extra)
		if err != nil {
			return errors.Wrap(err, "marshal audit context")
		}
		ctxJSON = b
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO audit_logs (order_id, actor_id, from_status, to_status, context)
		VALUES ($1, $2, $3, $4, $5)`, orderID, actorID, from, to, ctxJSON)
	return errors.Wrap(err, "insert audit row")
}

// HandleTransitionEvent is the auditd consumer handler: decode envelope,
// persist the transition.
func (w *PGWriter) HandleTransitionEvent(ctx context.Context, m kafkago.Message) error {
	var env kafkax.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		w.Log.WithError(err).Warn("drop undecodable audit event")
		return nil
	}
	if env.EventType != EventTransitionRecorded {
		return nil
	}
	p, err := kafkax.UnwrapPayload[TransitionPayload](env.Payload)
	if err != nil {
		w.Log.WithError(err).WithField("event_id", env.EventID).Warn("drop malformed transition payload")
		return nil
	}
	return w.RecordTransition(ctx, p.OrderID, p.ActorID, p.FromStatus, p.ToStatus, p.Context)
}
