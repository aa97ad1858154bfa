package reforms

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errRollback = errors.New("rollback")

// withPG runs fn against a migrated PostgreSQL store inside a transaction
// that is always rolled back. It skips without DATABASE_URL.
func withPG(t *testing.T, fn func(st Store)) {
	t.Helper()
	_ = godotenv.Load("../../.env.local")
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping integration test (requires DATABASE_URL)")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, gdb))

	err = NewPGStore(gdb).WithTx(ctx, func(tx Store) error {
		fn(tx)
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)
}

func seedPG(t *testing.T, st Store) (placeID int64, types map[string]int64) {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	_, places, err := UpsertPlaces(ctx, st, []PlaceRecord{{Name: "Testville " + suffix, StateCode: "ZZ", Kind: PlaceCity}})
	require.NoError(t, err)
	for _, id := range places {
		placeID = id
	}

	codes := []string{"test:a-" + suffix, "test:b-" + suffix}
	require.NoError(t, st.UpsertReformTypes(ctx, []ReformType{
		{Code: codes[0], Name: "Test A", Category: "test"},
		{Code: codes[1], Name: "Test B", Category: "test"},
	}))
	all, err := st.ReformTypes(ctx)
	require.NoError(t, err)
	types = map[string]int64{}
	for _, rt := range all {
		switch rt.Code {
		case codes[0]:
			types["a"] = rt.ID
		case codes[1]:
			types["b"] = rt.ID
		}
	}
	require.NoError(t, st.UpsertSources(ctx, []Source{{Name: "Test source", ShortName: "test-" + suffix}}))
	return placeID, types
}

func TestPGUpsertIsIdempotent(t *testing.T) {
	withPG(t, func(st Store) {
		ctx := context.Background()
		place, types := seedPG(t, st)
		records := []ReformRecord{
			{PlaceID: place, ReformTypeIDs: []int64{types["a"]}, Status: status(StatusAdopted), AdoptionDate: day("2024-02-07"), Scope: []string{"citywide"}},
			{PlaceID: place, ReformTypeIDs: []int64{types["b"]}},
		}

		first, err := UpsertReforms(ctx, st, records)
		require.NoError(t, err)
		assert.Equal(t, 2, first.Created)

		records[0].Scope = []string{"downtown"}
		second, err := UpsertReforms(ctx, st, records)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Created)
		assert.Equal(t, first.IDs, second.IDs)

		r, err := st.GetReform(ctx, first.IDs[0])
		require.NoError(t, err)
		assert.Equal(t, []string{"citywide", "downtown"}, []string(r.Scope))
	})
}

func TestPGIdentityIndexRejectsDuplicate(t *testing.T) {
	withPG(t, func(st Store) {
		ctx := context.Background()
		place, _ := seedPG(t, st)

		err := st.InsertReforms(ctx, []*Reform{{PlaceID: place}})
		require.NoError(t, err)
		err = st.InsertReforms(ctx, []*Reform{{PlaceID: place}})
		assert.True(t, errors.Is(err, ErrIdentityConflict), "got %v", err)

		// The failed insert ran in a savepoint, so the transaction is usable.
		_, err = st.ReformTypes(ctx)
		assert.NoError(t, err)
	})
}

func TestPGApplyUpdateMerges(t *testing.T) {
	withPG(t, func(st Store) {
		ctx := context.Background()
		place, types := seedPG(t, st)

		res, err := UpsertReforms(ctx, st, []ReformRecord{
			{PlaceID: place, ReformTypeIDs: []int64{types["b"]}, Status: status(StatusProposed), Summary: strPtr("loser")},
			{PlaceID: place, ReformTypeIDs: []int64{types["a"]}, Status: status(StatusAdopted), AdoptionDate: day("2024-02-07")},
		})
		require.NoError(t, err)
		loser, target := res.IDs[0], res.IDs[1]

		out, err := ApplyUpdate(ctx, st, loser, ReformUpdate{
			AdoptionDate: day("2024-02-07"),
			Status:       status(StatusAdopted),
			TypeIDs:      []int64{types["a"]},
		})
		require.NoError(t, err)
		assert.True(t, out.Merged)
		assert.Equal(t, target, out.ReformID)

		_, err = st.GetReform(ctx, loser)
		assert.True(t, errors.Is(err, ErrNotFound))

		got, err := st.ReformTypeIDs(ctx, target)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{types["a"], types["b"]}, got)

		r, err := st.GetReform(ctx, target)
		require.NoError(t, err)
		assert.Equal(t, "loser", *r.Summary)
	})
}
