package session

import (
	"fmt"
	"time"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/compiler"
)

// SnapshotVersion is the only Snapshot format this runtime understands.
// Hydrate rejects any other value.
const SnapshotVersion = 1

// Snapshot is the durable, resumable state of one execution: the
// compiler's node-identity cache (so a resumed tree does not refire
// OnMount for nodes that were already mounted), the COM's timeline, and
// the rest of the COM's serializable mutable state.
type Snapshot struct {
	Version   int
	SessionID string
	Tick      int
	DataCache []string
	Timeline  []com.TimelineEntry
	COMState  com.CommState
	CreatedAt time.Time
	Metadata  map[string]any
}

// HibernateParams names the state Hibernate captures alongside the
// compiler's own data cache.
type HibernateParams struct {
	SessionID string
	Tick      int
	Timeline  []com.TimelineEntry
	COMState  com.CommState
	Metadata  map[string]any
}

// Hibernate captures c's data cache together with the caller-supplied
// session state into a Snapshot suitable for durable storage. It does not
// mutate c.
func Hibernate(c *compiler.Compiler, params HibernateParams) Snapshot {
	return Snapshot{
		Version:   SnapshotVersion,
		SessionID: params.SessionID,
		Tick:      params.Tick,
		DataCache: c.DataCache(),
		Timeline:  append([]com.TimelineEntry(nil), params.Timeline...),
		COMState:  params.COMState,
		CreatedAt: time.Now().UTC(),
		Metadata:  params.Metadata,
	}
}

// Hydrate restores snap's data cache into c and returns the mutable state
// (timeline and COM state) the caller must apply to a fresh COM before
// resuming ticks. Hydrate fails fatally on a Snapshot from an incompatible
// version.
func Hydrate(c *compiler.Compiler, snap Snapshot) (com.CommState, []com.TimelineEntry, error) {
	if snap.Version != SnapshotVersion {
		return com.CommState{}, nil, fmt.Errorf("session: incompatible snapshot version %d, want %d", snap.Version, SnapshotVersion)
	}
	c.RestoreDataCache(snap.DataCache)
	return snap.COMState, snap.Timeline, nil
}
