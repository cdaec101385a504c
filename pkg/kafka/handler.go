package kafka

import (
	"context"
	"slices"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/fingerprint"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/pipeline"
	"github.com/Ramsey-B/sage/pkg/store"
)

// Submitter queues record ids for linking
type Submitter interface {
	SubmitWithAck(ctx context.Context, recordID string, ack pipeline.AckFunc) error
}

// NewRecordHandler stores each incoming record snapshot and submits it to the
// pipeline. The message is finished once the pipeline acknowledges the record.
// A snapshot identical to the stored one is not written again but is still
// submitted, so a redelivery after a failed attempt is relinked.
func NewRecordHandler(records store.RecordStore, submitter Submitter, logger ectologger.Logger) MessageHandler {
	return func(ctx context.Context, msg *IncomingMessage, done func(ctx context.Context)) error {
		if err := msg.ParseRecord(); err != nil {
			return err
		}

		log := logger.WithContext(ctx).WithFields(map[string]any{
			"record_id":     msg.Record.ID,
			"resource_type": msg.Record.ResourceType,
		})

		if existing, err := records.Fetch(ctx, msg.Record.ID); err == nil && sameSnapshot(existing, msg.Record) {
			log.Debug("Record snapshot unchanged")
		} else if err := records.Put(ctx, msg.Record); err != nil {
			log.WithError(err).Error("Failed to store incoming record")
			return err
		}

		if err := submitter.SubmitWithAck(ctx, msg.Record.ID, pipeline.AckFunc(done)); err != nil {
			log.WithError(err).Error("Failed to submit record")
			return err
		}

		log.Debug("Record submitted")
		return nil
	}
}

func sameSnapshot(a, b *models.Record) bool {
	return a.ResourceType == b.ResourceType &&
		slices.Equal(a.EIDs, b.EIDs) &&
		fingerprint.Resource(a.Resource) == fingerprint.Resource(b.Resource)
}
