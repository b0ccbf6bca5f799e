package status

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/vehicle-contact-relay/internal/app"
	"github.com/acme/vehicle-contact-relay/internal/queue"
)

// Worker persists delivery records and webhook status events into the
// delivery log. It is the sole writer; the API and dispatch path only
// publish.
type Worker struct {
	container *app.Container
}

// New creates a new status worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run consumes the delivery and status topics until the context is
// cancelled. Each topic gets its own consumer loop so a stall on one
// does not back up the other.
func (w *Worker) Run(ctx context.Context) error {
	errc := make(chan error, 2)

	go func() { errc <- w.runDeliveryLoop(ctx) }()
	go func() { errc <- w.runStatusLoop(ctx) }()

	return <-errc
}

// runDeliveryLoop appends finished dispatch records to the audit log.
func (w *Worker) runDeliveryLoop(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.DeliveryTopic, cfg.Kafka.ConsumerGroupID+"-delivery")
	defer reader.Close()

	log := w.container.Logger.Named("delivery-loop")
	deliveryLog := w.container.Repositories().DeliveryLog
	tracer := otel.Tracer("relay.statusworker")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("fetch", zap.Error(err))
			continue
		}

		var record queue.DeliveryRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			log.Error("unmarshal delivery record", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		sctx, span := tracer.Start(ctx, "delivery.persist", trace.WithAttributes(
			attribute.String("record.id", record.RecordID.String()),
			attribute.String("channel", string(record.Channel)),
			attribute.String("provider", string(record.Provider)),
			attribute.Int("attempts", len(record.Attempts)),
		))

		if err := deliveryLog.AppendRecord(sctx, record); err != nil {
			span.RecordError(err)
			log.Error("append delivery record", zap.Error(err),
				zap.String("record_id", record.RecordID.String()))
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			log.Error("commit", zap.Error(err))
		}
		span.End()
	}
}

// runStatusLoop reconciles vendor webhook events against the delivery
// that produced the provider reference.
func (w *Worker) runStatusLoop(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.StatusTopic, cfg.Kafka.ConsumerGroupID+"-status")
	defer reader.Close()

	log := w.container.Logger.Named("status-loop")
	deliveryLog := w.container.Repositories().DeliveryLog
	tracer := otel.Tracer("relay.statusworker")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("fetch", zap.Error(err))
			continue
		}

		var event queue.StatusEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Error("unmarshal status event", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		sctx, span := tracer.Start(ctx, "status.reconcile", trace.WithAttributes(
			attribute.String("provider", string(event.Provider)),
			attribute.String("provider.ref", event.Event.ProviderRef),
			attribute.String("status", string(event.Event.Status)),
		))

		if err := deliveryLog.RecordStatusEvent(sctx, event.Provider, event.Event, event.ReceivedAt); err != nil {
			span.RecordError(err)
			log.Error("record status event", zap.Error(err),
				zap.String("provider_ref", event.Event.ProviderRef))
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			log.Error("commit", zap.Error(err))
		}
		span.End()
	}
}
