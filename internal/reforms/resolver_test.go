package reforms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBatchStore sets up the collision case: reform 100 is a proposed reform
// without a date from PRN, reform 200 an adopted one dated 2024-02-07 from
// Mercatus. Both sit in Springfield with no policy document.
func twoBatchStore(t *testing.T) *MemStore {
	t.Helper()
	st := newFixtureStore(t)

	st.SetNextID("reforms", 100)
	loser := ingest(t, st, "PRN", ReformRecord{
		PlaceID:       springfield,
		ReformTypeIDs: []int64{typeParkingReduced},
		Status:        status(StatusProposed),
		Summary:       strPtr("Parking minimums cut near transit"),
		Source:        SourceMeta{Reporter: strPtr("J. Doe")},
		Citations:     []CitationRecord{citation("https://council.example/minutes", "Council minutes")},
	})
	require.Equal(t, []int64{100}, loser.IDs)

	st.SetNextID("reforms", 200)
	target := ingest(t, st, "mercatus", ReformRecord{
		PlaceID:       springfield,
		ReformTypeIDs: []int64{typeParkingEliminated},
		Status:        status(StatusAdopted),
		AdoptionDate:  day("2024-02-07"),
		Summary:       strPtr("Ordinance 24-17"),
		LinkURL:       strPtr("https://springfield.example/ord-24-17"),
		Citations: []CitationRecord{
			citation("https://council.example/minutes", "Council minutes"),
			citation("https://news.example/story", "Local news"),
		},
	})
	require.Equal(t, []int64{200}, target.IDs)
	return st
}

func TestApplyUpdateMergesOnCollision(t *testing.T) {
	st := twoBatchStore(t)
	ctx := context.Background()

	out, err := ApplyUpdate(ctx, st, 100, ReformUpdate{
		AdoptionDate: day("2024-02-07"),
		Status:       status(StatusAdopted),
		TypeIDs:      []int64{typeParkingEliminated},
	})
	require.NoError(t, err)
	assert.True(t, out.Merged)
	assert.Equal(t, int64(200), out.ReformID)
	assert.Equal(t, []MergeState{
		StateUpdating, StateConstraintViolationDetected, StateRolledBack, StateTargetLocated,
		StateFieldsMerged, StateSourcesMerged, StateCitationsMerged, StateTypesMerged,
		StateLoserDeleted, StateDone,
	}, out.Trail)

	_, err = st.GetReform(ctx, 100)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, st.ReformCount())

	r, err := st.GetReform(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, "Parking minimums cut near transit", *r.Summary)
	assert.Equal(t, "https://springfield.example/ord-24-17", *r.LinkURL)
	assert.Equal(t, "adopted", *r.Status)
	assert.Equal(t, "2024-02-07", r.AdoptionDate.Format(time.DateOnly))

	types, err := st.ReformTypeIDs(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, []int64{typeParkingEliminated, typeParkingReduced}, types)

	assert.ElementsMatch(t, []int64{1, 2}, sourceIDs(t, st, 200))

	cites, err := st.ReformCitations(ctx, 200)
	require.NoError(t, err)
	assert.Len(t, cites, 2)

	activity := st.Activity()
	require.NotEmpty(t, activity)
	last := activity[len(activity)-1]
	assert.Equal(t, "merge", last.LogType)
	assert.EqualValues(t, 100, last.Metadata["loser_id"])
	assert.EqualValues(t, 200, last.Metadata["target_id"])
}

func TestApplyUpdateWithoutCollision(t *testing.T) {
	st := twoBatchStore(t)
	ctx := context.Background()

	out, err := ApplyUpdate(ctx, st, 100, ReformUpdate{
		AdoptionDate: day("2023-11-01"),
		TypeIDs:      []int64{typeHousingADU},
	})
	require.NoError(t, err)
	assert.False(t, out.Merged)
	assert.Equal(t, int64(100), out.ReformID)
	assert.Equal(t, []MergeState{StateUpdating, StateDone}, out.Trail)

	r, err := st.GetReform(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "2023-11-01", r.AdoptionDate.Format(time.DateOnly))
	assert.Equal(t, "proposed", *r.Status)

	types, err := st.ReformTypeIDs(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{typeParkingReduced, typeHousingADU}, types)
	assert.Equal(t, 2, st.ReformCount())
}

func TestApplyUpdateMissingReform(t *testing.T) {
	st := newFixtureStore(t)
	_, err := ApplyUpdate(context.Background(), st, 42, ReformUpdate{Status: status(StatusAdopted)})
	assert.True(t, errors.Is(err, ErrNotFound))
}

// hiddenTwinStore reports identity conflicts but never finds the row that
// caused them.
type hiddenTwinStore struct {
	*MemStore
}

func (s hiddenTwinStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.MemStore.WithTx(ctx, func(Store) error { return fn(s) })
}

func (hiddenTwinStore) FindReformByIdentity(context.Context, IdentityKey, int64) (*Reform, error) {
	return nil, nil
}

func TestApplyUpdateAbortsWhenTargetVanishes(t *testing.T) {
	st := twoBatchStore(t)
	ctx := context.Background()

	out, err := ApplyUpdate(ctx, hiddenTwinStore{st}, 100, ReformUpdate{
		AdoptionDate: day("2024-02-07"),
		Status:       status(StatusAdopted),
	})
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.False(t, out.Merged)
	assert.Equal(t, int64(100), out.ReformID)
	assert.Equal(t, StateAborted, out.Trail[len(out.Trail)-1])

	r, err := st.GetReform(ctx, 100)
	require.NoError(t, err)
	assert.Nil(t, r.AdoptionDate)
	assert.Equal(t, 2, st.ReformCount())
}

func TestMergeMovesDocumentAfterLoserIsGone(t *testing.T) {
	st := newFixtureStore(t)
	ctx := context.Background()
	_, docs, err := UpsertPolicyDocuments(ctx, st, []PolicyDocumentRecord{{StateCode: "IL", ReferenceNumber: "SB 9"}})
	require.NoError(t, err)
	docID := docs[DocumentKey{StateCode: "IL", ReferenceNumber: "SB 9"}]

	withDoc := ingest(t, st, "PRN", ReformRecord{
		PlaceID: springfield, PolicyDocumentID: &docID, ReformTypeIDs: []int64{typeHousingADU}, Status: status(StatusProposed),
	})
	plain := ingest(t, st, "mercatus", ReformRecord{
		PlaceID: springfield, ReformTypeIDs: []int64{typeHousingADU}, Status: status(StatusAdopted), AdoptionDate: day("2024-03-01"),
	})

	merged, err := Merge(ctx, st, withDoc.IDs[0], plain.IDs[0], MergeInput{})
	require.NoError(t, err)
	assert.True(t, merged)

	r, err := st.GetReform(ctx, plain.IDs[0])
	require.NoError(t, err)
	require.NotNil(t, r.PolicyDocumentID)
	assert.Equal(t, docID, *r.PolicyDocumentID)
	assert.Equal(t, 1, st.ReformCount())
	assert.ElementsMatch(t, []int64{1, 2}, sourceIDs(t, st, plain.IDs[0]))
}

func TestMergeUnionsArrays(t *testing.T) {
	st := newFixtureStore(t)
	ctx := context.Background()

	loser := ingest(t, st, "PRN", ReformRecord{
		PlaceID:       springfield,
		ReformTypeIDs: []int64{typeParkingReduced},
		Status:        status(StatusProposed),
		Scope:         []string{"Downtown"},
		Requirements:  []string{"R1"},
	})
	target := ingest(t, st, "mercatus", ReformRecord{
		PlaceID:       springfield,
		ReformTypeIDs: []int64{typeParkingEliminated},
		Status:        status(StatusAdopted),
		Scope:         []string{"Citywide"},
		LandUse:       []string{"residential"},
		Requirements:  []string{"R2"},
	})

	merged, err := Merge(ctx, st, loser.IDs[0], target.IDs[0], MergeInput{})
	require.NoError(t, err)
	require.True(t, merged)

	r, err := st.GetReform(ctx, target.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"Downtown", "Citywide"}, []string(r.Scope))
	assert.Equal(t, []string{"residential"}, []string(r.LandUse))
	assert.Equal(t, []string{"R1", "R2"}, []string(r.Requirements))
}

func TestMergeGuards(t *testing.T) {
	st := twoBatchStore(t)
	ctx := context.Background()

	_, err := Merge(ctx, st, 100, 100, MergeInput{})
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	merged, err := Merge(ctx, st, 100, 999, MergeInput{})
	require.NoError(t, err)
	assert.False(t, merged)

	merged, err = Merge(ctx, st, 999, 200, MergeInput{})
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, 2, st.ReformCount())
}

func TestMergeCarriesEnrichment(t *testing.T) {
	st := twoBatchStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	targetBlob := Enrichment{
		"version": "v2",
		"fields":  map[string]any{"summary": map[string]any{"value": "target summary"}},
	}
	require.NoError(t, st.SetReformEnrichment(ctx, 200, targetBlob, "v2", at))

	merged, err := Merge(ctx, st, 100, 200, MergeInput{
		Enrichment: Enrichment{
			"version":  "v3",
			"provider": "anthropic",
			"fields": map[string]any{
				"summary": map[string]any{"value": "loser summary"},
				"scope":   map[string]any{"value": []any{"citywide"}},
			},
		},
		EnrichmentVersion: "v3",
		EnrichedAt:        at.Add(time.Hour),
		TypeIDs:           []int64{typeHousingADU},
	})
	require.NoError(t, err)
	require.True(t, merged)

	r, err := st.GetReform(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, "v2", r.AIEnrichedFields["version"])
	assert.Equal(t, "anthropic", r.AIEnrichedFields["provider"])
	fields := r.AIEnrichedFields.Fields()
	assert.Equal(t, map[string]any{"value": "target summary"}, fields["summary"])
	assert.Contains(t, fields, "scope")
	assert.Equal(t, "v2", *r.AIEnrichmentVersion)
	assert.True(t, r.AIEnrichedAt.Equal(at))

	types, err := st.ReformTypeIDs(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, []int64{typeParkingEliminated, typeParkingReduced, typeHousingADU}, types)
}

func TestMergeEnrichmentFillsGaps(t *testing.T) {
	primary := Enrichment{"version": "v1", "fields": map[string]any{"a": 1}}
	secondary := Enrichment{"version": "v0", "model": "m", "fields": map[string]any{"a": 2, "b": 3}}

	out := MergeEnrichment(primary, secondary)
	assert.Equal(t, "v1", out["version"])
	assert.Equal(t, "m", out["model"])
	assert.Equal(t, map[string]any{"a": 1, "b": 3}, out.Fields())
	assert.Equal(t, map[string]any{"a": 1}, primary.Fields())

	assert.Equal(t, secondary, MergeEnrichment(nil, secondary))
}
