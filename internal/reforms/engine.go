package reforms

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
)

// Result is the outcome of UpsertReforms. Records holds the deduplicated
// input and IDs the persisted reform id of each entry, in the same order.
type Result struct {
	Created  int
	Updated  int
	Records  []ReformRecord
	IDs      []int64
	Failures []*RecordError
}

type indexedRecord struct {
	index  int
	record ReformRecord
}

// UpsertReforms reconciles a batch of candidate reforms against st. The
// caller owns the transaction; per-record problems are reported in
// Result.Failures and only store failures are returned as errors.
func UpsertReforms(ctx context.Context, st Store, records []ReformRecord) (*Result, error) {
	log := logging.FromContext(ctx)
	res := &Result{}

	valid, err := checkRecords(ctx, st, records, res)
	if err != nil {
		return nil, err
	}

	res.Records = dedupeRecords(valid)
	if len(res.Records) == 0 {
		return res, nil
	}
	res.IDs = make([]int64, len(res.Records))

	existing, err := existingIdentities(ctx, st, res.Records)
	if err != nil {
		return nil, err
	}

	var inserts, updates []int
	for i, r := range res.Records {
		if id, ok := existing[r.Key()]; ok {
			res.IDs[i] = id
			updates = append(updates, i)
		} else {
			inserts = append(inserts, i)
		}
	}

	moved, err := insertWithFallback(ctx, st, res, inserts)
	if err != nil {
		return nil, err
	}
	updates = append(updates, moved...)

	for _, i := range updates {
		if err := updateExisting(ctx, st, res.IDs[i], res.Records[i]); err != nil {
			return nil, err
		}
		// A match counts as updated even when the merge writes nothing.
		res.Updated++
	}

	if err := tagReforms(ctx, st, res); err != nil {
		return nil, err
	}

	reformWrites.WithLabelValues("created").Add(float64(res.Created))
	reformWrites.WithLabelValues("updated").Add(float64(res.Updated))
	log.Debug().
		Int("input", len(records)).
		Int("deduplicated", len(res.Records)).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("failed", len(res.Failures)).
		Msg("reforms reconciled")
	return res, nil
}

// checkRecords validates every record and resolves its references in a
// single store call. Failing records are reported and dropped.
func checkRecords(ctx context.Context, st Store, records []ReformRecord, res *Result) ([]indexedRecord, error) {
	var candidates []indexedRecord
	refs := NewReferenceSet()
	for i, r := range records {
		if err := r.Validate(); err != nil {
			res.fail(ctx, i, err)
			continue
		}
		refs.Places[r.PlaceID] = struct{}{}
		if r.PolicyDocumentID != nil {
			refs.Documents[*r.PolicyDocumentID] = struct{}{}
		}
		for _, t := range r.ReformTypeIDs {
			refs.ReformTypes[t] = struct{}{}
		}
		candidates = append(candidates, indexedRecord{index: i, record: r})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	known, err := st.KnownReferences(ctx, refs)
	if err != nil {
		return nil, storeErr("resolve references", err)
	}

	valid := candidates[:0]
	for _, c := range candidates {
		if err := missingReference(c.record, known); err != nil {
			res.fail(ctx, c.index, err)
			continue
		}
		valid = append(valid, c)
	}
	return valid, nil
}

func missingReference(r ReformRecord, known ReferenceSet) error {
	if _, ok := known.Places[r.PlaceID]; !ok {
		return &ReferenceError{Kind: "place", Key: strconv.FormatInt(r.PlaceID, 10)}
	}
	if r.PolicyDocumentID != nil {
		if _, ok := known.Documents[*r.PolicyDocumentID]; !ok {
			return &ReferenceError{Kind: "policy document", Key: strconv.FormatInt(*r.PolicyDocumentID, 10)}
		}
	}
	for _, t := range r.ReformTypeIDs {
		if _, ok := known.ReformTypes[t]; !ok {
			return &ReferenceError{Kind: "reform type", Key: strconv.FormatInt(t, 10)}
		}
	}
	return nil
}

func (res *Result) fail(ctx context.Context, index int, err error) {
	res.Failures = append(res.Failures, &RecordError{Index: index, Err: err})
	recordFailures.WithLabelValues(failureKind(err)).Inc()
	logging.FromContext(ctx).Warn().Int("record", index).Err(err).Msg("skipping reform record")
}

// dedupeRecords groups records by identity key. A group sits at the position
// of its first member.
func dedupeRecords(records []indexedRecord) []ReformRecord {
	pos := map[IdentityKey]int{}
	var out []ReformRecord
	for _, ir := range records {
		r := normalizeRecord(ir.record)
		k := r.Key()
		if i, ok := pos[k]; ok {
			out[i] = mergeRecords(out[i], r)
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

// existingIdentities maps identity keys of stored reforms to their ids, for
// every place and document touched by the batch.
func existingIdentities(ctx context.Context, st Store, records []ReformRecord) (map[IdentityKey]int64, error) {
	places := map[int64]struct{}{}
	docs := map[int64]struct{}{}
	for _, r := range records {
		places[r.PlaceID] = struct{}{}
		if r.PolicyDocumentID != nil {
			docs[*r.PolicyDocumentID] = struct{}{}
		}
	}
	rows, err := st.ReformIdentities(ctx, idSlice(places), idSlice(docs))
	if err != nil {
		return nil, storeErr("load reform identities", err)
	}
	out := make(map[IdentityKey]int64, len(rows))
	for _, row := range rows {
		if _, dup := out[row.Key]; !dup {
			out[row.Key] = row.ID
		}
	}
	return out, nil
}

// insertWithFallback bulk inserts the records at idx. When the insert hits an
// identity index, the records that now have a stored twin are moved to the
// update path and the rest are retried. It returns the moved indexes.
func insertWithFallback(ctx context.Context, st Store, res *Result, idx []int) ([]int, error) {
	var moved []int
	for len(idx) > 0 {
		rows := make([]*Reform, len(idx))
		for j, i := range idx {
			rows[j] = newReform(res.Records[i])
		}

		err := st.InsertReforms(ctx, rows)
		if err == nil {
			for j, i := range idx {
				res.IDs[i] = rows[j].ID
			}
			res.Created += len(idx)
			return moved, nil
		}
		if !errors.Is(err, ErrIdentityConflict) {
			return nil, storeErr("insert reforms", err)
		}

		lateCollisions.Inc()
		logging.FromContext(ctx).Info().Err(err).Msg("late identity collision, re-checking insert candidates")

		var remaining []int
		for _, i := range idx {
			twin, err := st.FindReformByIdentity(ctx, res.Records[i].Key(), 0)
			if err != nil {
				return nil, storeErr("find reform by identity", err)
			}
			if twin != nil {
				res.IDs[i] = twin.ID
				moved = append(moved, i)
				continue
			}
			remaining = append(remaining, i)
		}
		if len(remaining) == len(idx) {
			return nil, &StoreError{Op: "insert reforms", Err: fmt.Errorf("identity conflict without a stored twin: %w", err)}
		}
		idx = remaining
	}
	return moved, nil
}

// updateExisting merges rec into the stored reform. A merge that changes
// nothing is not written.
func updateExisting(ctx context.Context, st Store, id int64, rec ReformRecord) error {
	cur, err := st.GetReform(ctx, id)
	if err != nil {
		return storeErr("get reform", err)
	}
	merged := applyRecord(cur, rec)
	if sameContent(cur, merged) {
		return nil
	}
	if err := st.UpdateReform(ctx, merged); err != nil {
		return storeErr("update reform", err)
	}
	return nil
}

func tagReforms(ctx context.Context, st Store, res *Result) error {
	var links []ReformReformType
	for i, r := range res.Records {
		for _, t := range r.ReformTypeIDs {
			links = append(links, ReformReformType{ReformID: res.IDs[i], ReformTypeID: t})
		}
	}
	return LinkTypes(ctx, st, links)
}
