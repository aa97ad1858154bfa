package reforms

import (
	"context"
	"strings"
)

// TypeIndex resolves reform type codes ("parking:eliminated") and their
// unambiguous short form ("eliminated") to ids.
type TypeIndex struct {
	byCode  map[string]int64
	byShort map[string]int64
}

const ambiguous = -1

func NewTypeIndex(types []ReformType) *TypeIndex {
	ix := &TypeIndex{byCode: map[string]int64{}, byShort: map[string]int64{}}
	for _, t := range types {
		code := strings.ToLower(t.Code)
		ix.byCode[code] = t.ID
		if _, short, ok := strings.Cut(code, ":"); ok {
			if _, seen := ix.byShort[short]; seen {
				ix.byShort[short] = ambiguous
			} else {
				ix.byShort[short] = t.ID
			}
		}
	}
	return ix
}

func LoadTypeIndex(ctx context.Context, st Store) (*TypeIndex, error) {
	types, err := st.ReformTypes(ctx)
	if err != nil {
		return nil, storeErr("load reform types", err)
	}
	return NewTypeIndex(types), nil
}

func (ix *TypeIndex) Resolve(code string) (int64, bool) {
	c := strings.ToLower(strings.TrimSpace(code))
	if id, ok := ix.byCode[c]; ok {
		return id, true
	}
	if id, ok := ix.byShort[c]; ok && id != ambiguous {
		return id, true
	}
	return 0, false
}

// ResolveAll maps codes to ids, reporting the first unknown code.
func (ix *TypeIndex) ResolveAll(codes []string) ([]int64, error) {
	ids := make([]int64, 0, len(codes))
	for _, c := range codes {
		id, ok := ix.Resolve(c)
		if !ok {
			return nil, &ReferenceError{Kind: "reform type", Key: c}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
