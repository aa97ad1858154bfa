package reforms

import (
	"context"
	"strings"
)

// LinkTypes tags reforms with reform types. Existing pairs are left alone.
func LinkTypes(ctx context.Context, st Store, links []ReformReformType) error {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[ReformReformType]struct{}, len(links))
	uniq := links[:0:0]
	for _, l := range links {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		uniq = append(uniq, l)
	}
	return storeErr("link reform types", st.LinkReformTypes(ctx, uniq))
}

// LinkSources records where each reform in res came from. The source is
// resolved by its short name; an unknown name fails the whole call.
func LinkSources(ctx context.Context, st Store, sourceShortName string, res *Result) error {
	if len(res.IDs) == 0 {
		return nil
	}
	src, err := st.SourceByShortName(ctx, sourceShortName)
	if err != nil {
		return err
	}

	links := make([]ReformSource, 0, len(res.IDs))
	seen := map[int64]int{}
	for i, r := range res.Records {
		l := ReformSource{
			ReformID:  res.IDs[i],
			SourceID:  src.ID,
			Reporter:  nonEmpty(r.Source.Reporter),
			SourceURL: nonEmpty(r.Source.SourceURL),
			Notes:     nonEmpty(r.Source.Notes),
			IsPrimary: r.Source.Primary(),
		}
		if j, ok := seen[l.ReformID]; ok {
			prev := links[j]
			l.Reporter = coalesce(l.Reporter, prev.Reporter)
			l.SourceURL = coalesce(l.SourceURL, prev.SourceURL)
			l.Notes = coalesce(l.Notes, prev.Notes)
			links[j] = l
			continue
		}
		seen[l.ReformID] = len(links)
		links = append(links, l)
	}
	return storeErr("link reform sources", st.LinkReformSources(ctx, links))
}

// AddCitations appends the citations of every record in res. Citations
// already present for a reform by (url, description) are skipped.
func AddCitations(ctx context.Context, st Store, res *Result) error {
	var rows []ReformCitation
	for i, r := range res.Records {
		for _, c := range r.Citations {
			rows = append(rows, ReformCitation{
				ReformID:            res.IDs[i],
				CitationDescription: trimmed(c.Description),
				CitationURL:         trimmed(c.URL),
				CitationNotes:       nonEmpty(c.Notes),
			})
		}
	}
	return CopyCitations(ctx, st, rows)
}

// CopyCitations inserts rows, dropping duplicates within the slice itself.
func CopyCitations(ctx context.Context, st Store, rows []ReformCitation) error {
	if len(rows) == 0 {
		return nil
	}
	type key struct {
		reform int64
		citationKey
	}
	seen := map[key]struct{}{}
	uniq := make([]ReformCitation, 0, len(rows))
	for _, c := range rows {
		k := key{c.ReformID, citationKeyOf(c.CitationURL, c.CitationDescription)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, c)
	}
	return storeErr("add reform citations", st.AddReformCitations(ctx, uniq))
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
