package reforms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	typeParkingEliminated int64 = 1
	typeParkingReduced    int64 = 2
	typeHousingADU        int64 = 3
	typeZoningMinimum     int64 = 4
)

// newFixtureStore returns a store holding Springfield, IL as place 7 plus the
// reform types and sources used across the tests.
func newFixtureStore(t *testing.T) *MemStore {
	t.Helper()
	ctx := context.Background()
	st := NewMemStore()
	st.SetNextID("places", 7)
	_, err := st.UpsertPlaces(ctx, []Place{{Name: "Springfield", StateCode: "IL", PlaceType: PlaceCity}})
	require.NoError(t, err)

	require.NoError(t, st.UpsertReformTypes(ctx, []ReformType{
		{ID: typeParkingEliminated, Code: "parking:eliminated", Name: "Parking minimums eliminated", Category: "parking"},
		{ID: typeParkingReduced, Code: "parking:reduced", Name: "Parking minimums reduced", Category: "parking"},
		{ID: typeHousingADU, Code: "housing:adu", Name: "Accessory dwelling units", Category: "housing"},
		{ID: typeZoningMinimum, Code: "zoning:reduced", Name: "Minimum lot size reduced", Category: "zoning"},
	}))
	require.NoError(t, st.UpsertSources(ctx, []Source{
		{Name: "Parking Reform Network", ShortName: "PRN"},
		{Name: "Mercatus Center", ShortName: "mercatus"},
	}))
	return st
}

const springfield int64 = 7

func day(s string) *time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func status(s Status) *Status { return &s }

// ingest runs records through the engine and links them to source, the way
// the pipeline does.
func ingest(t *testing.T, st Store, source string, records ...ReformRecord) *Result {
	t.Helper()
	ctx := context.Background()
	var res *Result
	err := st.WithTx(ctx, func(tx Store) error {
		var err error
		res, err = UpsertReforms(ctx, tx, records)
		if err != nil {
			return err
		}
		if err := LinkSources(ctx, tx, source, res); err != nil {
			return err
		}
		return AddCitations(ctx, tx, res)
	})
	require.NoError(t, err)
	return res
}

func citation(url, description string) CitationRecord {
	return CitationRecord{URL: strPtr(url), Description: strPtr(description)}
}

func sourceIDs(t *testing.T, st Store, reformID int64) []int64 {
	t.Helper()
	rows, err := st.ReformSources(context.Background(), reformID)
	require.NoError(t, err)
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.SourceID)
	}
	return ids
}
