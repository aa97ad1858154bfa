package reforms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft(name, state string, codes ...string) ReformDraft {
	return ReformDraft{
		Place:     PlaceRef{Name: name, StateCode: state, Kind: PlaceCity},
		TypeCodes: codes,
	}
}

func TestPipelineIngest(t *testing.T) {
	st := newFixtureStore(t)
	ctx := context.Background()

	adopted := draft("austin", "tx", "parking:eliminated")
	adopted.Status = status(StatusAdopted)
	adopted.AdoptionDate = day("2023-11-02")
	adopted.Citations = []CitationRecord{citation("https://austin.example/ord", "Ordinance")}

	withDoc := draft("Springfield", "IL", "adu")
	withDoc.Document = &DocumentRef{StateCode: "il", ReferenceNumber: "HB 5"}

	badType := draft("Austin", "TX", "transit:free")
	missingDoc := draft("Austin", "TX", "adu")
	missingDoc.Document = &DocumentRef{StateCode: "TX", ReferenceNumber: "HB 404"}

	report, err := NewPipeline(st).Ingest(ctx, Batch{
		Source:    "PRN",
		SourceURL: "https://prn.example/export.json",
		Documents: []PolicyDocumentRecord{{StateCode: "IL", ReferenceNumber: "HB 5"}},
		Reforms:   []ReformDraft{adopted, withDoc, badType, missingDoc},
	}, IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "partial", report.Run.Status)
	assert.Equal(t, 4, report.Run.RecordsProcessed)
	assert.Equal(t, 2, report.Run.RecordsFailed)
	assert.Equal(t, 2, report.Run.ReformsCreated)
	assert.Equal(t, 1, report.Run.PlacesCreated)
	assert.Equal(t, 1, report.Run.PlacesUpdated)

	require.Len(t, report.Failures, 2)
	assert.Equal(t, 2, report.Failures[0].Index)
	assert.Equal(t, 3, report.Failures[1].Index)
	for _, f := range report.Failures {
		assert.True(t, errors.Is(f, ErrUnknownReference))
	}

	austin := report.Result.IDs[0]
	assert.Equal(t, []int64{1}, sourceIDs(t, st, austin))
	cites, err := st.ReformCitations(ctx, austin)
	require.NoError(t, err)
	assert.Len(t, cites, 1)

	runs, err := st.ListIngestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.Run.ID, runs[0].ID)
	assert.Equal(t, "partial", runs[0].Status)
	require.NotNil(t, runs[0].SourceURL)

	activity := st.Activity()
	require.NotEmpty(t, activity)
	assert.Equal(t, "ingestion", activity[len(activity)-1].LogType)
}

func TestPipelineIngestIsRepeatable(t *testing.T) {
	st := newFixtureStore(t)
	ctx := context.Background()
	b := Batch{Source: "mercatus", Reforms: []ReformDraft{draft("Boise", "ID", "adu")}}

	first, err := NewPipeline(st).Ingest(ctx, b, IngestOptions{})
	require.NoError(t, err)
	second, err := NewPipeline(st).Ingest(ctx, b, IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "success", second.Run.Status)
	assert.Equal(t, 0, second.Run.ReformsCreated)
	assert.Equal(t, 1, second.Run.ReformsUpdated)
	assert.Equal(t, first.Result.IDs, second.Result.IDs)
}

func TestPipelineResolvesPaddedReferenceNumber(t *testing.T) {
	st := newFixtureStore(t)
	ctx := context.Background()

	d := draft("Springfield", "IL", "adu")
	d.Document = &DocumentRef{StateCode: "IL", ReferenceNumber: "HB 1 "}

	report, err := NewPipeline(st).Ingest(ctx, Batch{
		Source:    "PRN",
		Documents: []PolicyDocumentRecord{{StateCode: "IL", ReferenceNumber: "HB 1 "}},
		Reforms:   []ReformDraft{d},
	}, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "success", report.Run.Status)
	assert.Empty(t, report.Failures)
	require.Len(t, report.Result.IDs, 1)

	r, err := st.GetReform(ctx, report.Result.IDs[0])
	require.NoError(t, err)
	require.NotNil(t, r.PolicyDocumentID)
	doc, err := st.GetPolicyDocument(ctx, *r.PolicyDocumentID)
	require.NoError(t, err)
	assert.Equal(t, "HB 1", doc.ReferenceNumber)
}

func TestPipelineDryRunWritesNothing(t *testing.T) {
	st := newFixtureStore(t)
	ctx := context.Background()

	report, err := NewPipeline(st).Ingest(ctx, Batch{
		Source:  "PRN",
		Reforms: []ReformDraft{draft("Austin", "TX", "parking:eliminated")},
	}, IngestOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "success", report.Run.Status)
	assert.Equal(t, 1, report.Run.ReformsCreated)

	assert.Equal(t, 0, st.ReformCount())
	runs, err := st.ListIngestions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPipelineUnknownSourceFailsBatch(t *testing.T) {
	st := newFixtureStore(t)
	ctx := context.Background()

	report, err := NewPipeline(st).Ingest(ctx, Batch{
		Source:  "unknown",
		Reforms: []ReformDraft{draft("Austin", "TX", "parking:eliminated")},
	}, IngestOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownReference))
	assert.Equal(t, "failed", report.Run.Status)
	assert.Equal(t, 0, st.ReformCount())

	runs, err := st.ListIngestions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
	require.NotNil(t, runs[0].ErrorMessage)
}
