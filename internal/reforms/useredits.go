package reforms

import (
	"context"
	"strings"
)

// UserEdits are manual corrections to a reform. A nil field is left alone;
// an empty string or empty list clears the column.
type UserEdits struct {
	Summary      *string   `json:"summary,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	Scope        *[]string `json:"scope,omitempty"`
	LandUse      *[]string `json:"land_use,omitempty"`
	Requirements *[]string `json:"requirements,omitempty"`
}

// SaveUserEdits writes edits to the plain columns only. The enrichment blob
// is never touched, so later enrichment runs do not overwrite the edit.
func SaveUserEdits(ctx context.Context, st Store, reformID int64, edits UserEdits) (*Reform, error) {
	var out *Reform
	err := st.WithTx(ctx, func(tx Store) error {
		r, err := tx.GetReform(ctx, reformID)
		if err != nil {
			return err
		}
		if edits.Summary != nil {
			r.Summary = editedText(*edits.Summary)
		}
		if edits.Notes != nil {
			r.Notes = editedText(*edits.Notes)
		}
		if edits.Scope != nil {
			r.Scope = unionStrings(nil, *edits.Scope)
		}
		if edits.LandUse != nil {
			r.LandUse = unionStrings(nil, *edits.LandUse)
		}
		if edits.Requirements != nil {
			r.Requirements = unionStrings(nil, *edits.Requirements)
		}
		if err := tx.UpdateReform(ctx, r); err != nil {
			return storeErr("save user edits", err)
		}
		out = r
		return nil
	})
	return out, err
}

func editedText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
