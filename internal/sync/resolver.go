package sync

// Outcome is the decision for a conditional write that affected zero rows.
type Outcome int

const (
	// OutcomeRetry: the authoritative row still has the revision the client
	// believed it was updating, so the empty result was a transient failure.
	// The row stays pending for the next pass.
	OutcomeRetry Outcome = iota
	// OutcomeAdopt: another writer moved the revision. The remote row is
	// adopted verbatim; no field-level merge is attempted.
	OutcomeAdopt
	// OutcomePurge: the object was deleted upstream; delete it locally,
	// whatever its local pending state.
	OutcomePurge
)

// Resolve is the optimistic-concurrency policy shared by every entity
// family. remoteFound reports whether the authoritative row still exists;
// localRevision is the revision the client's conditional write expected.
func Resolve(remoteFound bool, remoteRevision, localRevision int64) Outcome {
	if !remoteFound {
		return OutcomePurge
	}
	if remoteRevision != localRevision {
		return OutcomeAdopt
	}
	return OutcomeRetry
}
