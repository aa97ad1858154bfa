package geocoding

import (
	"context"
	"fmt"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

// Geocoder is the lookup GeocodeMissing needs.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*Result, error)
}

// Query builds the search text for a place.
func Query(p reforms.Place) string {
	state := reforms.DivisionName(p.StateCode)
	country := "USA"
	if reforms.DivisionCountry(p.StateCode) == "CA" {
		country = "Canada"
	}
	if p.PlaceType == reforms.PlaceState {
		return fmt.Sprintf("%s, %s", state, country)
	}
	return fmt.Sprintf("%s, %s, %s", p.Name, state, country)
}

// GeocodeMissing fills coordinates for up to limit places that have none.
// Lookup failures are logged and skipped. It returns how many places were
// updated.
func GeocodeMissing(ctx context.Context, st reforms.Store, g Geocoder, limit int) (int, error) {
	log := logging.FromContext(ctx)
	places, err := st.PlacesMissingCoordinates(ctx, limit)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, p := range places {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		q := Query(p)
		res, err := g.Geocode(ctx, q)
		if err != nil {
			log.Warn().Err(err).Int64("place_id", p.ID).Str("query", q).Msg("geocode failed")
			continue
		}
		if err := st.SetPlaceCoordinates(ctx, p.ID, res.Lat, res.Lon); err != nil {
			return updated, err
		}
		updated++
		log.Debug().Int64("place_id", p.ID).Float64("lat", res.Lat).Float64("lon", res.Lon).Msg("geocoded place")
	}

	log.Info().Int("candidates", len(places)).Int("updated", updated).Msg("geocoding finished")
	return updated, nil
}
