package reforms

import (
	"context"
)

// LogIngestion records a batch run in data_ingestion and mirrors it into the
// activity log. Both writes share one transaction separate from the batch,
// so a failed batch is still logged.
func LogIngestion(ctx context.Context, st Store, run *DataIngestion) error {
	return st.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateIngestion(ctx, run); err != nil {
			return storeErr("log ingestion", err)
		}
		dur := run.DurationSeconds
		err := tx.AddActivity(ctx, &ActivityLog{
			LogType:      "ingestion",
			Action:       run.SourceName,
			Status:       run.Status,
			ErrorMessage: run.ErrorMessage,
			Metadata: Enrichment{
				"ingestion_id":    run.ID.String(),
				"records":         run.RecordsProcessed,
				"reforms_created": run.ReformsCreated,
				"reforms_updated": run.ReformsUpdated,
				"failed":          run.RecordsFailed,
			},
			DurationSeconds: &dur,
		})
		return storeErr("log ingestion activity", err)
	})
}
