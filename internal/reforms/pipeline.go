package reforms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
)

// PlaceRef names a place by its natural key.
type PlaceRef struct {
	Name      string    `json:"name"`
	StateCode string    `json:"state_code"`
	Kind      PlaceKind `json:"kind"`
}

// DocumentRef names a policy document by its natural key.
type DocumentRef struct {
	StateCode       string `json:"state_code"`
	ReferenceNumber string `json:"reference_number"`
}

// ReformDraft is a reform as importers produce it: references are natural
// keys and type codes instead of ids.
type ReformDraft struct {
	Place     PlaceRef     `json:"place"`
	Document  *DocumentRef `json:"document,omitempty"`
	TypeCodes []string     `json:"reform_types"`
	ReformRecord
}

// Batch is one unit of ingestion from a single source.
type Batch struct {
	Source    string                 `json:"source"`
	SourceURL string                 `json:"source_url,omitempty"`
	Places    []PlaceRecord          `json:"places,omitempty"`
	Documents []PolicyDocumentRecord `json:"documents,omitempty"`
	Reforms   []ReformDraft          `json:"reforms"`
}

type IngestOptions struct {
	// DryRun runs the batch and rolls it back. Nothing is logged.
	DryRun bool
}

// IngestReport describes a finished batch. Failures index into Batch.Reforms.
type IngestReport struct {
	Run      DataIngestion
	Result   *Result
	Failures []*RecordError
}

var errDryRun = errors.New("dry run")

type Pipeline struct {
	store Store
	now   func() time.Time
}

func NewPipeline(st Store) *Pipeline {
	return &Pipeline{store: st, now: time.Now}
}

// Ingest runs places, documents, reforms, tags, sources and citations of b
// in one transaction, then logs the run in its own transaction whatever the
// outcome.
func (p *Pipeline) Ingest(ctx context.Context, b Batch, opts IngestOptions) (*IngestReport, error) {
	start := p.now()
	runID := uuid.New()
	ctx = logging.With(ctx, "ingestion_id", runID.String())
	log := logging.FromContext(ctx)

	report := &IngestReport{Run: DataIngestion{
		ID:               runID,
		SourceName:       b.Source,
		SourceURL:        nonEmpty(&b.SourceURL),
		RecordsProcessed: len(b.Reforms),
	}}

	err := p.store.WithTx(ctx, func(tx Store) error {
		if err := p.ingest(ctx, tx, b, report); err != nil {
			return err
		}
		if opts.DryRun {
			return errDryRun
		}
		return nil
	})
	if errors.Is(err, errDryRun) {
		err = nil
	}

	run := &report.Run
	run.RecordsFailed = len(report.Failures)
	run.DurationSeconds = p.now().Sub(start).Seconds()
	switch {
	case err != nil:
		run.Status = "failed"
		run.ErrorMessage = strPtr(err.Error())
	case len(report.Failures) > 0:
		run.Status = "partial"
		run.ErrorMessage = strPtr(report.Failures[0].Error())
	default:
		run.Status = "success"
	}
	batchDuration.WithLabelValues(run.Status).Observe(run.DurationSeconds)

	if !opts.DryRun {
		if logErr := LogIngestion(ctx, p.store, run); logErr != nil {
			log.Error().Err(logErr).Msg("failed to log ingestion")
		}
	}

	log.Info().
		Str("source", b.Source).
		Str("status", run.Status).
		Int("reforms_created", run.ReformsCreated).
		Int("reforms_updated", run.ReformsUpdated).
		Int("failed", run.RecordsFailed).
		Bool("dry_run", opts.DryRun).
		Msg("batch ingested")
	return report, err
}

func (p *Pipeline) ingest(ctx context.Context, tx Store, b Batch, report *IngestReport) error {
	if _, err := tx.SourceByShortName(ctx, b.Source); err != nil {
		return err
	}

	places := append([]PlaceRecord(nil), b.Places...)
	for _, d := range b.Reforms {
		places = append(places, PlaceRecord{Name: d.Place.Name, StateCode: d.Place.StateCode, Kind: d.Place.Kind})
	}
	placeRes, placeIDs, err := UpsertPlaces(ctx, tx, places)
	if err != nil {
		return err
	}
	report.Run.PlacesCreated = placeRes.Created
	report.Run.PlacesUpdated = placeRes.Updated

	_, docIDs, err := UpsertPolicyDocuments(ctx, tx, b.Documents)
	if err != nil {
		return err
	}

	types, err := LoadTypeIndex(ctx, tx)
	if err != nil {
		return err
	}

	records, origin := resolveDrafts(b.Reforms, placeIDs, docIDs, types, report)

	res, err := UpsertReforms(ctx, tx, records)
	if err != nil {
		return err
	}
	for _, f := range res.Failures {
		report.Failures = append(report.Failures, &RecordError{Index: origin[f.Index], Err: f.Err})
	}
	report.Result = res
	report.Run.ReformsCreated = res.Created
	report.Run.ReformsUpdated = res.Updated

	if err := LinkSources(ctx, tx, b.Source, res); err != nil {
		return err
	}
	return AddCitations(ctx, tx, res)
}

// resolveDrafts turns drafts into records. origin maps a record position
// back to its draft position.
func resolveDrafts(drafts []ReformDraft, places map[PlaceKey]int64, docs map[DocumentKey]int64,
	types *TypeIndex, report *IngestReport) ([]ReformRecord, []int) {
	var records []ReformRecord
	var origin []int
	for i, d := range drafts {
		rec := d.ReformRecord

		pk := PlaceKeyOf(NormalizePlaceName(d.Place.Name), normalizeCode(d.Place.StateCode), d.Place.Kind)
		id, ok := places[pk]
		if !ok {
			report.Failures = append(report.Failures, &RecordError{Index: i,
				Err: &ReferenceError{Kind: "place", Key: fmt.Sprintf("%s/%s", d.Place.StateCode, d.Place.Name)}})
			continue
		}
		rec.PlaceID = id

		if d.Document != nil {
			dk := DocumentKeyOf(d.Document.StateCode, d.Document.ReferenceNumber)
			docID, ok := docs[dk]
			if !ok {
				report.Failures = append(report.Failures, &RecordError{Index: i,
					Err: &ReferenceError{Kind: "policy document", Key: dk.StateCode + " " + dk.ReferenceNumber}})
				continue
			}
			rec.PolicyDocumentID = int64Ptr(docID)
		}

		if len(d.TypeCodes) > 0 {
			ids, err := types.ResolveAll(d.TypeCodes)
			if err != nil {
				report.Failures = append(report.Failures, &RecordError{Index: i, Err: err})
				continue
			}
			rec.ReformTypeIDs = unionIDs(rec.ReformTypeIDs, ids)
		}

		records = append(records, rec)
		origin = append(origin, i)
	}
	return records, origin
}
