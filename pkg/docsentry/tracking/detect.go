package tracking

import (
	"fmt"
	"time"
)

// ChangeResult describes a meaningful difference between two observations
// of the same document.
type ChangeResult struct {
	Type     ChangeType
	Previous State
	Observed State
	Via      Source
}

// Detect compares a stored state against a new observation and classifies
// the difference. It is a pure function: no clock, no store access.
//
// Returns nil when prev is nil (first observation seeds the baseline) and
// when the observation is stale or a duplicate (EditedAt not strictly newer
// than prev). The latter is what makes webhook redelivery naturally
// idempotent.
func Detect(prev *State, obs State, via Source) *ChangeResult {
	if prev == nil {
		return nil
	}
	if !obs.EditedAt.After(prev.EditedAt) {
		return nil
	}

	r := &ChangeResult{Previous: *prev, Observed: obs, Via: via}
	switch {
	case obs.EditorID != prev.EditorID:
		r.Type = ChangeDifferentEditor
	case revisionUnchanged(prev, obs):
		r.Type = ChangeMetadataOnly
	default:
		r.Type = ChangeSameEditor
	}
	return r
}

// revisionUnchanged reports whether the provider revision marker stayed put,
// meaning the change touched metadata (title, permissions) but not content.
// Providers that expose no revision marker never classify as metadata-only.
func revisionUnchanged(prev *State, obs State) bool {
	return prev.Revision != "" && obs.Revision != "" && prev.Revision == obs.Revision
}

// Summary renders a human-readable notification line for a change.
// Timestamps are rendered in UTC so the output does not depend on the
// host timezone; callers asserting on change content should use the
// structured ChangeResult fields instead.
func (r *ChangeResult) Summary(title, token string) string {
	name := title
	if name == "" {
		name = token
	}
	at := r.Observed.EditedAt.UTC().Format(time.RFC3339)

	switch r.Type {
	case ChangeMetadataOnly:
		if r.Observed.Title != "" && r.Previous.Title != "" && r.Observed.Title != r.Previous.Title {
			return fmt.Sprintf("📄 %q was renamed to %q by %s at %s",
				r.Previous.Title, r.Observed.Title, r.Observed.EditorID, at)
		}
		return fmt.Sprintf("📄 %q metadata was updated by %s at %s", name, r.Observed.EditorID, at)
	case ChangeDifferentEditor:
		return fmt.Sprintf("📄 %q was edited by %s at %s (previously edited by %s)",
			name, r.Observed.EditorID, at, r.Previous.EditorID)
	default:
		return fmt.Sprintf("📄 %q was edited by %s at %s", name, r.Observed.EditorID, at)
	}
}
