package reforms

import (
	"slices"
	"strings"
	"time"
)

// unionStrings keeps existing members in order, appends new members that are
// not yet present and drops blanks. An empty result is nil.
func unionStrings(existing, incoming []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, list := range [][]string{existing, incoming} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func unionIDs(existing, incoming []int64) []int64 {
	out := slices.Clone(existing)
	for _, id := range incoming {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// preferStr returns incoming unless it is nil or blank.
func preferStr(incoming, existing *string) *string {
	if v := nonEmpty(incoming); v != nil {
		return v
	}
	return existing
}

type citationKey struct{ url, description string }

func citationKeyOf(url, description *string) citationKey {
	var k citationKey
	if url != nil {
		k.url = *url
	}
	if description != nil {
		k.description = *description
	}
	return k
}

func unionCitations(existing, incoming []CitationRecord) []CitationRecord {
	out := slices.Clone(existing)
	seen := map[citationKey]struct{}{}
	for _, c := range out {
		seen[citationKeyOf(c.URL, c.Description)] = struct{}{}
	}
	for _, c := range incoming {
		if nonEmpty(c.URL) == nil && nonEmpty(c.Description) == nil {
			continue
		}
		k := citationKeyOf(c.URL, c.Description)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// normalizeRecord cleans array members, drops duplicate type ids and empty
// citations so that merging starts from canonical input. The adoption date is
// pinned to UTC midnight of its own calendar day.
func normalizeRecord(r ReformRecord) ReformRecord {
	if r.AdoptionDate != nil {
		y, m, d := r.AdoptionDate.Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		r.AdoptionDate = &midnight
	}
	r.Scope = unionStrings(nil, r.Scope)
	r.LandUse = unionStrings(nil, r.LandUse)
	r.Requirements = unionStrings(nil, r.Requirements)
	r.ReformTypeIDs = unionIDs(nil, r.ReformTypeIDs)
	r.Citations = unionCitations(nil, r.Citations)
	if r.PolicyDocumentID != nil && *r.PolicyDocumentID == 0 {
		r.PolicyDocumentID = nil
	}
	return r
}

// mergeRecords folds a later record into an earlier one with the same
// identity: non-null wins, and when both are set the later record wins.
func mergeRecords(earlier, later ReformRecord) ReformRecord {
	m := earlier
	m.ReformTypeIDs = unionIDs(earlier.ReformTypeIDs, later.ReformTypeIDs)
	m.Scope = unionStrings(earlier.Scope, later.Scope)
	m.LandUse = unionStrings(earlier.LandUse, later.LandUse)
	m.Requirements = unionStrings(earlier.Requirements, later.Requirements)
	m.Citations = unionCitations(earlier.Citations, later.Citations)

	m.PolicyDocumentID = coalesce(later.PolicyDocumentID, earlier.PolicyDocumentID)
	m.Status = coalesce(later.Status, earlier.Status)
	m.AdoptionDate = coalesce(later.AdoptionDate, earlier.AdoptionDate)
	m.Summary = preferStr(later.Summary, earlier.Summary)
	m.Notes = preferStr(later.Notes, earlier.Notes)
	m.Mechanism = preferStr(later.Mechanism, earlier.Mechanism)
	m.Phase = preferStr(later.Phase, earlier.Phase)
	m.LegislativeNumber = preferStr(later.LegislativeNumber, earlier.LegislativeNumber)
	m.LinkURL = preferStr(later.LinkURL, earlier.LinkURL)

	m.Source = SourceMeta{
		Reporter:  preferStr(later.Source.Reporter, earlier.Source.Reporter),
		SourceURL: preferStr(later.Source.SourceURL, earlier.Source.SourceURL),
		Notes:     preferStr(later.Source.Notes, earlier.Source.Notes),
		IsPrimary: coalesce(later.Source.IsPrimary, earlier.Source.IsPrimary),
	}
	return m
}

// newReform builds the row inserted for a record. NULLs stay NULL.
func newReform(r ReformRecord) *Reform {
	return &Reform{
		PlaceID:           r.PlaceID,
		PolicyDocumentID:  r.PolicyDocumentID,
		Status:            statusString(r.Status),
		Scope:             r.Scope,
		LandUse:           r.LandUse,
		AdoptionDate:      r.AdoptionDate,
		Summary:           nonEmpty(r.Summary),
		Requirements:      r.Requirements,
		Notes:             nonEmpty(r.Notes),
		ReformMechanism:   nonEmpty(r.Mechanism),
		ReformPhase:       nonEmpty(r.Phase),
		LegislativeNumber: nonEmpty(r.LegislativeNumber),
		LinkURL:           nonEmpty(r.LinkURL),
	}
}

// applyRecord merges an incoming record into a stored reform for the
// ingestion update path. Enrichment columns are carried over untouched.
func applyRecord(cur *Reform, r ReformRecord) *Reform {
	m := copyReform(cur)
	m.Scope = unionStrings(cur.Scope, r.Scope)
	m.LandUse = unionStrings(cur.LandUse, r.LandUse)
	m.Requirements = unionStrings(cur.Requirements, r.Requirements)

	m.PolicyDocumentID = coalesce(r.PolicyDocumentID, cur.PolicyDocumentID)
	m.Status = coalesce(statusString(r.Status), cur.Status)
	m.AdoptionDate = coalesce(r.AdoptionDate, cur.AdoptionDate)
	m.Summary = preferStr(r.Summary, cur.Summary)
	m.Notes = preferStr(r.Notes, cur.Notes)
	m.ReformMechanism = preferStr(r.Mechanism, cur.ReformMechanism)
	m.ReformPhase = preferStr(r.Phase, cur.ReformPhase)
	m.LegislativeNumber = preferStr(r.LegislativeNumber, cur.LegislativeNumber)
	m.LinkURL = preferStr(r.LinkURL, cur.LinkURL)
	return m
}

// sameContent compares the columns written by UpdateReform.
func sameContent(a, b *Reform) bool {
	return a.PlaceID == b.PlaceID &&
		eqPtr(a.PolicyDocumentID, b.PolicyDocumentID) &&
		eqPtr(a.Status, b.Status) &&
		eqDate(a.AdoptionDate, b.AdoptionDate) &&
		slices.Equal(a.Scope, b.Scope) &&
		slices.Equal(a.LandUse, b.LandUse) &&
		slices.Equal(a.Requirements, b.Requirements) &&
		eqPtr(a.Summary, b.Summary) &&
		eqPtr(a.Notes, b.Notes) &&
		eqPtr(a.ReformMechanism, b.ReformMechanism) &&
		eqPtr(a.ReformPhase, b.ReformPhase) &&
		eqPtr(a.LegislativeNumber, b.LegislativeNumber) &&
		eqPtr(a.LinkURL, b.LinkURL)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return dateKey(a) == dateKey(b)
}
