package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

// Mercatus housing-bills export columns. The region header carries a
// trailing space in the published file; headers are trimmed before lookup.
const (
	colBill        = "2025 Housing Bills"
	colRegion      = "Region Abbreviation"
	colIssues      = "Issues"
	colDescription = "Custom Description"
	colStatus      = "Status Text"
	colIntroduced  = "Date Introduced"
	colLastAction  = "Last Timeline Action Date"
	colLink        = "Source Link"
)

const mercatusNotes = "Mercatus 2025 Housing Bills"

// ParseMercatusFile reads a Mercatus CSV export from path.
func ParseMercatusFile(path, source string) (reforms.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return reforms.Batch{}, err
	}
	defer f.Close()
	return ParseMercatus(f, source)
}

// ParseMercatus turns a Mercatus export into a batch of state places, bills
// and one reform per bill tagged with every mapped issue. Rows without a
// bill or region are skipped.
func ParseMercatus(in io.Reader, source string) (reforms.Batch, error) {
	r := csv.NewReader(bufio.NewReader(in))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return reforms.Batch{}, err
	}
	if len(records) < 2 {
		return reforms.Batch{}, errors.New("csv has no data rows")
	}

	header := records[0]
	// Handle BOM on first header cell
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}

	req := []string{colBill, colRegion, colIssues, colDescription, colStatus, colIntroduced, colLastAction, colLink}
	for _, k := range req {
		if _, ok := col[k]; !ok {
			return reforms.Batch{}, fmt.Errorf("missing required column: %s", k)
		}
	}

	log := logging.Default()
	batch := reforms.Batch{Source: source}
	seenState := map[string]bool{}

	for rowIdx := 1; rowIdx < len(records); rowIdx++ {
		rec := records[rowIdx]
		get := func(name string) string {
			i := col[name]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		bill := get(colBill)
		state := strings.ToUpper(get(colRegion))
		if bill == "" || state == "" {
			log.Debug().Int("row", rowIdx+1).Msg("skipping row without bill or region")
			continue
		}

		ref, title := splitBill(bill)
		stateName := reforms.DivisionName(state)
		if !seenState[state] {
			seenState[state] = true
			batch.Places = append(batch.Places, reforms.PlaceRecord{Name: stateName, StateCode: state, Kind: reforms.PlaceState})
		}

		desc := optional(get(colDescription))
		link := optional(get(colLink))
		status := reforms.NormalizeStatus(get(colStatus))
		statusText := string(status)

		doc := reforms.PolicyDocumentRecord{
			StateCode:       state,
			ReferenceNumber: ref,
			Title:           optional(title),
			URL:             link,
			Status:          &statusText,
			LastActionDate:  reforms.ParseFlexibleDate(get(colLastAction)),
		}
		if desc != nil {
			doc.KeyPoints = []string{*desc}
		}
		batch.Documents = append(batch.Documents, doc)

		codes := IssueCodes(get(colIssues))
		if len(codes) == 0 {
			log.Debug().Int("row", rowIdx+1).Str("bill", ref).Msg("bill has no issues, no reform created")
			continue
		}

		d := reforms.ReformDraft{
			Place:     reforms.PlaceRef{Name: stateName, StateCode: state, Kind: reforms.PlaceState},
			Document:  &reforms.DocumentRef{StateCode: state, ReferenceNumber: ref},
			TypeCodes: codes,
		}
		d.Status = &status
		d.AdoptionDate = reforms.ParseFlexibleDate(get(colIntroduced))
		d.Summary = desc
		d.LegislativeNumber = &ref
		d.Source = reforms.SourceMeta{SourceURL: link, Notes: optional(mercatusNotes)}
		batch.Reforms = append(batch.Reforms, d)
	}

	log.Info().
		Int("places", len(batch.Places)).
		Int("documents", len(batch.Documents)).
		Int("reforms", len(batch.Reforms)).
		Msg("parsed mercatus export")
	return batch, nil
}

// splitBill splits "HB 1234: Title" into reference and title.
func splitBill(s string) (string, string) {
	ref, title, ok := strings.Cut(s, ":")
	if !ok {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(ref), strings.TrimSpace(title)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
