package reforms

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
)

// MergeState is one step of a post-hoc merge.
type MergeState string

const (
	StateUpdating                    MergeState = "updating"
	StateConstraintViolationDetected MergeState = "constraint_violation_detected"
	StateRolledBack                  MergeState = "rolled_back"
	StateTargetLocated               MergeState = "target_located"
	StateFieldsMerged                MergeState = "fields_merged"
	StateSourcesMerged               MergeState = "sources_merged"
	StateCitationsMerged             MergeState = "citations_merged"
	StateTypesMerged                 MergeState = "types_merged"
	StateLoserDeleted                MergeState = "loser_deleted"
	StateDone                        MergeState = "done"
	StateAborted                     MergeState = "aborted"
)

// ReformUpdate is an independent change to an existing reform. Nil fields
// are left as they are; TypeIDs are added to the reform's tags.
type ReformUpdate struct {
	AdoptionDate     *time.Time
	Status           *Status
	PolicyDocumentID *int64
	TypeIDs          []int64

	// Enrichment is the payload being applied to the reform, if any. It only
	// matters when the update ends in a merge.
	Enrichment        Enrichment
	EnrichmentVersion string
	EnrichedAt        time.Time
}

// MergeInput carries what the triggering update contributes to a merge.
type MergeInput struct {
	Enrichment        Enrichment
	EnrichmentVersion string
	EnrichedAt        time.Time
	TypeIDs           []int64
}

// UpdateOutcome reports where an update ended up. ReformID is the row that
// now carries the data: the updated reform itself, or the merge target.
type UpdateOutcome struct {
	ReformID int64
	Merged   bool
	Aborted  bool
	Trail    []MergeState
}

type mergeTrail struct {
	log    zerolog.Logger
	states []MergeState
}

func newTrail(ctx context.Context, reformID int64) *mergeTrail {
	return &mergeTrail{log: logging.FromContext(ctx).With().Int64("reform_id", reformID).Logger()}
}

func (t *mergeTrail) to(s MergeState) {
	t.states = append(t.states, s)
	t.log.Debug().Str("state", string(s)).Msg("merge transition")
}

// ApplyUpdate writes u to the reform. When the new identity collides with
// another reform, the write is rolled back and the two rows are merged into
// the existing one; the updated reform is deleted.
func ApplyUpdate(ctx context.Context, st Store, reformID int64, u ReformUpdate) (*UpdateOutcome, error) {
	trail := newTrail(ctx, reformID)
	out := &UpdateOutcome{ReformID: reformID}

	err := st.WithTx(ctx, func(tx Store) error {
		trail.to(StateUpdating)
		cur, err := tx.GetReform(ctx, reformID)
		if err != nil {
			return err
		}
		next := copyReform(cur)
		next.AdoptionDate = coalesce(u.AdoptionDate, cur.AdoptionDate)
		next.Status = coalesce(statusString(u.Status), cur.Status)
		next.PolicyDocumentID = coalesce(u.PolicyDocumentID, cur.PolicyDocumentID)

		err = tx.UpdateReform(ctx, next)
		if err == nil {
			if err := LinkTypes(ctx, tx, typeLinks(reformID, u.TypeIDs)); err != nil {
				return err
			}
			trail.to(StateDone)
			return nil
		}
		if !errors.Is(err, ErrIdentityConflict) {
			return storeErr("update reform", err)
		}
		trail.to(StateConstraintViolationDetected)
		trail.log.Info().Err(err).Msg("identity collision, merging")
		trail.to(StateRolledBack)

		target, err := tx.FindReformByIdentity(ctx, next.Key(), reformID)
		if err != nil {
			return storeErr("locate merge target", err)
		}
		if target == nil {
			trail.to(StateAborted)
			trail.log.Warn().Str("identity", next.Key().String()).Msg("merge target not found, keeping reform")
			mergeOutcomes.WithLabelValues("aborted").Inc()
			out.Aborted = true
			return nil
		}
		trail.to(StateTargetLocated)

		in := MergeInput{
			Enrichment:        u.Enrichment,
			EnrichmentVersion: u.EnrichmentVersion,
			EnrichedAt:        u.EnrichedAt,
			TypeIDs:           u.TypeIDs,
		}
		if err := mergeInto(ctx, tx, next, target, in, trail); err != nil {
			return err
		}
		out.ReformID = target.ID
		out.Merged = true
		return nil
	})
	out.Trail = trail.states
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Merge folds the loser reform into the target and deletes the loser. It
// returns false without changing anything when either row is gone.
func Merge(ctx context.Context, st Store, loserID, targetID int64, in MergeInput) (bool, error) {
	if loserID == targetID {
		return false, &ValidationError{Field: "target_id", Message: "cannot merge a reform into itself"}
	}
	trail := newTrail(ctx, loserID)
	merged := false
	err := st.WithTx(ctx, func(tx Store) error {
		loser, err := tx.GetReform(ctx, loserID)
		if errors.Is(err, ErrNotFound) {
			trail.to(StateAborted)
			trail.log.Warn().Msg("merge loser not found")
			mergeOutcomes.WithLabelValues("aborted").Inc()
			return nil
		}
		if err != nil {
			return err
		}
		target, err := tx.GetReform(ctx, targetID)
		if errors.Is(err, ErrNotFound) {
			trail.to(StateAborted)
			trail.log.Warn().Int64("target_id", targetID).Msg("merge target not found, keeping reform")
			mergeOutcomes.WithLabelValues("aborted").Inc()
			return nil
		}
		if err != nil {
			return err
		}
		trail.to(StateTargetLocated)
		if err := mergeInto(ctx, tx, loser, target, in, trail); err != nil {
			return err
		}
		merged = true
		return nil
	})
	return merged, err
}

// mergeInto runs the merge steps from FieldsMerged to Done. loser holds the
// loser's intended field values, which may differ from its stored row when
// the merge was triggered by an update.
func mergeInto(ctx context.Context, st Store, loser, target *Reform, in MergeInput, trail *mergeTrail) error {
	// Links are read before anything is written; deleting the loser cascades.
	loserTypes, err := st.ReformTypeIDs(ctx, loser.ID)
	if err != nil {
		return storeErr("load loser types", err)
	}
	loserSources, err := st.ReformSources(ctx, loser.ID)
	if err != nil {
		return storeErr("load loser sources", err)
	}
	targetSources, err := st.ReformSources(ctx, target.ID)
	if err != nil {
		return storeErr("load target sources", err)
	}
	loserCitations, err := st.ReformCitations(ctx, loser.ID)
	if err != nil {
		return storeErr("load loser citations", err)
	}
	storedLoser, err := st.GetReform(ctx, loser.ID)
	if err != nil {
		return storeErr("load loser", err)
	}

	merged := mergeFields(loser, target)
	// The loser still owns its document until it is deleted.
	var adoptDocument *int64
	if !eqPtr(merged.PolicyDocumentID, target.PolicyDocumentID) &&
		eqPtr(merged.PolicyDocumentID, storedLoser.PolicyDocumentID) {
		adoptDocument = merged.PolicyDocumentID
		merged.PolicyDocumentID = target.PolicyDocumentID
	}
	if !sameContent(target, merged) {
		if err := st.UpdateReform(ctx, merged); err != nil {
			return storeErr("merge fields", err)
		}
	}

	blob, version, at := mergeEnrichmentState(loser, target, in)
	if blob != nil {
		if err := st.SetReformEnrichment(ctx, target.ID, blob, version, at); err != nil {
			return storeErr("merge enrichment", err)
		}
	}
	trail.to(StateFieldsMerged)

	have := map[int64]struct{}{}
	for _, s := range targetSources {
		have[s.SourceID] = struct{}{}
	}
	var sources []ReformSource
	for _, s := range loserSources {
		if _, ok := have[s.SourceID]; ok {
			continue
		}
		s.ReformID = target.ID
		sources = append(sources, s)
	}
	if len(sources) > 0 {
		if err := st.LinkReformSources(ctx, sources); err != nil {
			return storeErr("merge sources", err)
		}
	}
	trail.to(StateSourcesMerged)

	citations := make([]ReformCitation, 0, len(loserCitations))
	for _, c := range loserCitations {
		citations = append(citations, ReformCitation{
			ReformID:            target.ID,
			CitationDescription: c.CitationDescription,
			CitationURL:         c.CitationURL,
			CitationNotes:       c.CitationNotes,
		})
	}
	if err := CopyCitations(ctx, st, citations); err != nil {
		return err
	}
	trail.to(StateCitationsMerged)

	if err := LinkTypes(ctx, st, typeLinks(target.ID, unionIDs(loserTypes, in.TypeIDs))); err != nil {
		return err
	}
	trail.to(StateTypesMerged)

	if err := st.DeleteReform(ctx, loser.ID); err != nil {
		return storeErr("delete merged reform", err)
	}
	trail.to(StateLoserDeleted)

	if adoptDocument != nil {
		merged.PolicyDocumentID = adoptDocument
		if err := st.UpdateReform(ctx, merged); err != nil {
			return storeErr("move policy document to merge target", err)
		}
	}

	if err := st.AddActivity(ctx, &ActivityLog{
		LogType: "merge",
		Action:  "merge_duplicate_reforms",
		Status:  "success",
		Metadata: Enrichment{
			"loser_id":  loser.ID,
			"target_id": target.ID,
		},
	}); err != nil {
		return storeErr("log merge", err)
	}
	mergeOutcomes.WithLabelValues("merged").Inc()
	trail.to(StateDone)
	trail.log.Info().Int64("target_id", target.ID).Msg("reforms merged")
	return nil
}

// mergeFields applies the resolver tie-break: the loser's non-null value
// overrides the target's. Arrays are unioned with the loser's members first.
// Identity columns other than the document stay the target's.
func mergeFields(loser, target *Reform) *Reform {
	m := copyReform(target)
	m.Scope = unionStrings(loser.Scope, target.Scope)
	m.LandUse = unionStrings(loser.LandUse, target.LandUse)
	m.Requirements = unionStrings(loser.Requirements, target.Requirements)
	m.Summary = preferStr(loser.Summary, target.Summary)
	m.Notes = preferStr(loser.Notes, target.Notes)
	m.LinkURL = preferStr(loser.LinkURL, target.LinkURL)
	m.LegislativeNumber = preferStr(loser.LegislativeNumber, target.LegislativeNumber)
	m.ReformMechanism = preferStr(loser.ReformMechanism, target.ReformMechanism)
	m.ReformPhase = preferStr(loser.ReformPhase, target.ReformPhase)
	m.PolicyDocumentID = coalesce(loser.PolicyDocumentID, target.PolicyDocumentID)
	return m
}

// mergeEnrichmentState picks the enrichment written to the target. The
// target's blob wins; gaps are filled from the incoming payload, or from the
// loser's stored blob when there is none.
func mergeEnrichmentState(loser, target *Reform, in MergeInput) (Enrichment, string, time.Time) {
	loserBlob := in.Enrichment
	loserVersion, loserAt := in.EnrichmentVersion, in.EnrichedAt
	if loserBlob == nil {
		loserBlob = loser.AIEnrichedFields
		if loser.AIEnrichmentVersion != nil {
			loserVersion = *loser.AIEnrichmentVersion
		}
		if loser.AIEnrichedAt != nil {
			loserAt = *loser.AIEnrichedAt
		}
	}
	if target.AIEnrichedFields == nil {
		if loserBlob == nil {
			return nil, "", time.Time{}
		}
		return loserBlob.Clone(), loserVersion, loserAt
	}

	blob := MergeEnrichment(target.AIEnrichedFields, loserBlob)
	version := loserVersion
	if target.AIEnrichmentVersion != nil {
		version = *target.AIEnrichmentVersion
	}
	at := loserAt
	if target.AIEnrichedAt != nil {
		at = *target.AIEnrichedAt
	}
	return blob, version, at
}

// MergeEnrichment returns primary with every top-level key and every
// "fields" entry it lacks filled from secondary.
func MergeEnrichment(primary, secondary Enrichment) Enrichment {
	if primary == nil {
		return secondary.Clone()
	}
	out := primary.Clone()
	for k, v := range secondary {
		if k == "fields" {
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	if sf := secondary.Fields(); sf != nil {
		tf := out.Fields()
		if tf == nil {
			tf = map[string]any{}
			out["fields"] = tf
		}
		for k, v := range sf {
			if _, ok := tf[k]; !ok {
				tf[k] = v
			}
		}
	}
	return out
}

func typeLinks(reformID int64, typeIDs []int64) []ReformReformType {
	links := make([]ReformReformType, 0, len(typeIDs))
	for _, t := range typeIDs {
		links = append(links, ReformReformType{ReformID: reformID, ReformTypeID: t})
	}
	return links
}
