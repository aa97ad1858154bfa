package reforms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeIndexResolve(t *testing.T) {
	ix := NewTypeIndex([]ReformType{
		{ID: 1, Code: "parking:eliminated"},
		{ID: 2, Code: "parking:reduced"},
		{ID: 3, Code: "zoning:reduced"},
		{ID: 4, Code: "housing:adu"},
	})

	id, ok := ix.Resolve("Parking:Eliminated ")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = ix.Resolve("adu")
	require.True(t, ok)
	assert.Equal(t, int64(4), id)

	_, ok = ix.Resolve("reduced")
	assert.False(t, ok, "short code shared by two types")

	_, ok = ix.Resolve("")
	assert.False(t, ok)
}

func TestTypeIndexResolveAll(t *testing.T) {
	st := newFixtureStore(t)
	ix, err := LoadTypeIndex(context.Background(), st)
	require.NoError(t, err)

	ids, err := ix.ResolveAll([]string{"housing:adu", "eliminated"})
	require.NoError(t, err)
	assert.Equal(t, []int64{typeHousingADU, typeParkingEliminated}, ids)

	_, err = ix.ResolveAll([]string{"housing:adu", "transit:free"})
	var ref *ReferenceError
	require.True(t, errors.As(err, &ref))
	assert.Equal(t, "transit:free", ref.Key)
	assert.True(t, errors.Is(err, ErrUnknownReference))
}
