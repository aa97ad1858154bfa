package geocoding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

func nominatim(t *testing.T, hits map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "reformctl-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		body, ok := hits[r.URL.Query().Get("q")]
		if !ok {
			body = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeocode(t *testing.T) {
	srv := nominatim(t, map[string]string{
		"Springfield, Illinois, USA": `[{"lat":"39.7990","lon":"-89.6440","display_name":"Springfield, Sangamon County, Illinois"}]`,
	})
	c, err := NewClient(srv.URL, "reformctl-test", NewThrottle(1000))
	require.NoError(t, err)

	res, err := c.Geocode(context.Background(), "Springfield, Illinois, USA")
	require.NoError(t, err)
	assert.InDelta(t, 39.799, res.Lat, 1e-9)
	assert.InDelta(t, -89.644, res.Lon, 1e-9)

	_, err = c.Geocode(context.Background(), "Nowhere")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestGeocodeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "reformctl-test", NewThrottle(1000))
	require.NoError(t, err)
	_, err = c.Geocode(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestNewClientRequiresUserAgent(t *testing.T) {
	_, err := NewClient("", "", nil)
	assert.Error(t, err)
}

func TestThrottleSpacesRequestsPerDomain(t *testing.T) {
	th := NewThrottle(20)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(ctx, "https://a.example.org/search"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	// Another domain has its own budget.
	start = time.Now()
	require.NoError(t, th.Wait(ctx, "https://b.example.org/search"))
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestThrottleHonoursContext(t *testing.T) {
	th := NewThrottle(0.001)
	require.NoError(t, th.Wait(context.Background(), "https://a.example.org"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(ctx, "https://a.example.org"))
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "Springfield, Illinois, USA", Query(reforms.Place{Name: "Springfield", StateCode: "IL", PlaceType: reforms.PlaceCity}))
	assert.Equal(t, "Oregon, USA", Query(reforms.Place{Name: "Oregon", StateCode: "OR", PlaceType: reforms.PlaceState}))
	assert.Equal(t, "Toronto, Ontario, Canada", Query(reforms.Place{Name: "Toronto", StateCode: "ON", PlaceType: reforms.PlaceCity}))
}

type failingGeocoder struct{}

func (failingGeocoder) Geocode(context.Context, string) (*Result, error) {
	return nil, errors.New("boom")
}

func TestGeocodeMissing(t *testing.T) {
	ctx := context.Background()
	st := reforms.NewMemStore()
	lat, lon := 45.5, -122.6
	_, _, err := reforms.UpsertPlaces(ctx, st, []reforms.PlaceRecord{
		{Name: "Springfield", StateCode: "IL", Kind: reforms.PlaceCity},
		{Name: "Atlantis", StateCode: "IL", Kind: reforms.PlaceCity},
		{Name: "Portland", StateCode: "OR", Kind: reforms.PlaceCity, Latitude: &lat, Longitude: &lon},
	})
	require.NoError(t, err)

	srv := nominatim(t, map[string]string{
		"Springfield, Illinois, USA": `[{"lat":"39.799","lon":"-89.644"}]`,
	})
	c, err := NewClient(srv.URL, "reformctl-test", NewThrottle(1000))
	require.NoError(t, err)

	n, err := GeocodeMissing(ctx, st, c, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := st.PlacesMissingCoordinates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "Atlantis", left[0].Name)
}

func TestGeocodeMissingSkipsFailures(t *testing.T) {
	ctx := context.Background()
	st := reforms.NewMemStore()
	_, _, err := reforms.UpsertPlaces(ctx, st, []reforms.PlaceRecord{{Name: "Springfield", StateCode: "IL", Kind: reforms.PlaceCity}})
	require.NoError(t, err)

	n, err := GeocodeMissing(ctx, st, failingGeocoder{}, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
