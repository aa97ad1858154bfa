package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

// jsonBatch mirrors reforms.Batch with dates and statuses left as tracker
// text, so "2024", "2024-03" and "3/7/2024" all load.
type jsonBatch struct {
	Source    string                `json:"source"`
	SourceURL string                `json:"source_url"`
	Places    []reforms.PlaceRecord `json:"places"`
	Documents []jsonDocument        `json:"documents"`
	Reforms   []jsonReform          `json:"reforms"`
}

type jsonDocument struct {
	StateCode       string   `json:"state_code"`
	ReferenceNumber string   `json:"reference_number"`
	Title           *string  `json:"title"`
	URL             *string  `json:"url"`
	Status          string   `json:"status"`
	LastActionDate  string   `json:"last_action_date"`
	KeyPoints       []string `json:"key_points"`
	Analysis        *string  `json:"analysis"`
	BillText        *string  `json:"bill_text"`
}

type jsonReform struct {
	Place             reforms.PlaceRef         `json:"place"`
	Document          *reforms.DocumentRef     `json:"document"`
	ReformTypes       []string                 `json:"reform_types"`
	Status            string                   `json:"status"`
	AdoptionDate      string                   `json:"adoption_date"`
	Scope             []string                 `json:"scope"`
	LandUse           []string                 `json:"land_use"`
	Summary           *string                  `json:"summary"`
	Requirements      []string                 `json:"requirements"`
	Notes             *string                  `json:"notes"`
	Mechanism         *string                  `json:"reform_mechanism"`
	Phase             *string                  `json:"reform_phase"`
	LegislativeNumber *string                  `json:"legislative_number"`
	LinkURL           *string                  `json:"link_url"`
	Source            reforms.SourceMeta       `json:"source"`
	Citations         []reforms.CitationRecord `json:"citations"`
}

// ParseJSONFile reads a JSON batch from path.
func ParseJSONFile(path, source string) (reforms.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return reforms.Batch{}, err
	}
	defer f.Close()
	return ParseJSON(f, source)
}

// ParseJSON decodes a batch document. A non-empty source overrides the one
// named in the document.
func ParseJSON(in io.Reader, source string) (reforms.Batch, error) {
	var raw jsonBatch
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return reforms.Batch{}, fmt.Errorf("decode batch: %w", err)
	}

	b := reforms.Batch{
		Source:    raw.Source,
		SourceURL: raw.SourceURL,
		Places:    raw.Places,
	}
	if source != "" {
		b.Source = source
	}
	if strings.TrimSpace(b.Source) == "" {
		return reforms.Batch{}, fmt.Errorf("batch names no source")
	}

	for _, d := range raw.Documents {
		doc := reforms.PolicyDocumentRecord{
			StateCode:       d.StateCode,
			ReferenceNumber: d.ReferenceNumber,
			Title:           d.Title,
			URL:             d.URL,
			LastActionDate:  reforms.ParseFlexibleDate(d.LastActionDate),
			KeyPoints:       d.KeyPoints,
			Analysis:        d.Analysis,
			BillText:        d.BillText,
		}
		if s := reforms.StatusPtr(d.Status); s != nil {
			text := string(*s)
			doc.Status = &text
		}
		b.Documents = append(b.Documents, doc)
	}

	for _, r := range raw.Reforms {
		d := reforms.ReformDraft{
			Place:     r.Place,
			Document:  r.Document,
			TypeCodes: r.ReformTypes,
		}
		d.Status = reforms.StatusPtr(r.Status)
		d.AdoptionDate = reforms.ParseFlexibleDate(r.AdoptionDate)
		d.Scope = r.Scope
		d.LandUse = r.LandUse
		d.Summary = r.Summary
		d.Requirements = r.Requirements
		d.Notes = r.Notes
		d.Mechanism = r.Mechanism
		d.Phase = r.Phase
		d.LegislativeNumber = r.LegislativeNumber
		d.LinkURL = r.LinkURL
		d.Source = r.Source
		d.Citations = r.Citations
		b.Reforms = append(b.Reforms, d)
	}
	return b, nil
}
