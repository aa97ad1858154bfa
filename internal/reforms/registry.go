package reforms

import (
	"context"
	"strings"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
)

// RegistryResult reports the outcome of a place or document upsert.
type RegistryResult struct {
	Created int
	Updated int
}

// UpsertPlaces normalizes names, deduplicates by PlaceKey (last record wins)
// and upserts the rest. Invalid records are logged and skipped.
func UpsertPlaces(ctx context.Context, st Store, records []PlaceRecord) (RegistryResult, map[PlaceKey]int64, error) {
	log := logging.FromContext(ctx)
	pos := map[PlaceKey]int{}
	var places []Place
	var keys []PlaceKey
	for i, r := range records {
		r.Name = NormalizePlaceName(r.Name)
		r.StateCode = normalizeCode(r.StateCode)
		if err := r.Validate(); err != nil {
			log.Warn().Int("record", i).Err(err).Msg("skipping place")
			continue
		}
		p := Place{
			Name:       r.Name,
			StateCode:  r.StateCode,
			PlaceType:  r.Kind,
			Population: r.Population,
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
		}
		k := PlaceKeyOf(r.Name, r.StateCode, r.Kind)
		if j, ok := pos[k]; ok {
			prev := places[j]
			p.Population = coalesce(p.Population, prev.Population)
			p.Latitude = coalesce(p.Latitude, prev.Latitude)
			p.Longitude = coalesce(p.Longitude, prev.Longitude)
			places[j] = p
			continue
		}
		pos[k] = len(places)
		places = append(places, p)
		keys = append(keys, k)
	}

	var res RegistryResult
	ids := make(map[PlaceKey]int64, len(places))
	if len(places) == 0 {
		return res, ids, nil
	}
	rows, err := st.UpsertPlaces(ctx, places)
	if err != nil {
		return res, nil, storeErr("upsert places", err)
	}
	for i, row := range rows {
		ids[keys[i]] = row.ID
		if row.Inserted {
			res.Created++
		} else {
			res.Updated++
		}
	}
	log.Debug().Int("created", res.Created).Int("updated", res.Updated).Msg("places upserted")
	return res, ids, nil
}

// UpsertPolicyDocuments deduplicates by (state_code, reference_number), last
// record wins, and drops records missing either part of the key.
func UpsertPolicyDocuments(ctx context.Context, st Store, records []PolicyDocumentRecord) (RegistryResult, map[DocumentKey]int64, error) {
	log := logging.FromContext(ctx)
	pos := map[DocumentKey]int{}
	var docs []PolicyDocument
	var keys []DocumentKey
	for i, r := range records {
		k := DocumentKeyOf(r.StateCode, r.ReferenceNumber)
		if k.StateCode == "" || k.ReferenceNumber == "" {
			log.Warn().Int("record", i).Msg("skipping policy document without state code or reference number")
			continue
		}
		d := PolicyDocument{
			StateCode:       k.StateCode,
			ReferenceNumber: k.ReferenceNumber,
			PlaceID:         r.PlaceID,
			Title:           nonEmpty(r.Title),
			KeyPoints:       cleanStrings(r.KeyPoints),
			Analysis:        nonEmpty(r.Analysis),
			DocumentURL:     nonEmpty(r.URL),
			Status:          nonEmpty(r.Status),
			LastActionDate:  r.LastActionDate,
			BillText:        nonEmpty(r.BillText),
		}
		if j, ok := pos[k]; ok {
			docs[j] = d
			continue
		}
		pos[k] = len(docs)
		docs = append(docs, d)
		keys = append(keys, k)
	}

	var res RegistryResult
	ids := make(map[DocumentKey]int64, len(docs))
	if len(docs) == 0 {
		return res, ids, nil
	}
	rows, err := st.UpsertPolicyDocuments(ctx, docs)
	if err != nil {
		return res, nil, storeErr("upsert policy documents", err)
	}
	for i, row := range rows {
		ids[keys[i]] = row.ID
		if row.Inserted {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, ids, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
