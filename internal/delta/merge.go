package delta

import (
	"sort"

	"github.com/lakegate/lakegate/pkg/hlc"
)

// mergedColumn tracks one column's winning value during a merge,
// together with the clock reading and client that contributed it.
type mergedColumn struct {
	value    Value
	hlc      hlc.Timestamp
	clientID string
}

// wins reports whether a contribution at (ts, clientID) beats the
// current entry. Later clocks win; equal clocks fall back to the
// lexicographically greater client so every replica picks the same
// winner.
func (c *mergedColumn) wins(ts hlc.Timestamp, clientID string) bool {
	if ts != c.hlc {
		return ts > c.hlc
	}

	return clientID > c.clientID
}

// Merge resolves two deltas for the same row into one synthesised
// delta by column-level last-writer-wins.
//
// Each column keeps the value from the delta with the higher clock,
// ties broken by clientId. A DELETE acts as a sentinel with its own
// clock: the row is dead when the delete clock is at or above every
// column clock, and a later write resurrects the row carrying only its
// post-delete columns. The result gets op INSERT (live) or DELETE
// (dead), the maximum clock seen, and a fresh content fingerprint; the
// source deltaIds are not preserved.
func Merge(existing, incoming *RowDelta) RowDelta {
	cols := make(map[string]*mergedColumn, len(existing.Columns)+len(incoming.Columns))
	var deleteHLC hlc.Timestamp

	apply := func(d *RowDelta) {
		if d.Op == OpDelete && d.HLC > deleteHLC {
			deleteHLC = d.HLC
		}
		for i := range d.Columns {
			cv := &d.Columns[i]
			entry, ok := cols[cv.Column]
			if !ok {
				cols[cv.Column] = &mergedColumn{value: cv.Value, hlc: d.HLC, clientID: d.ClientID}
				continue
			}
			if entry.wins(d.HLC, d.ClientID) {
				entry.value = cv.Value
				entry.hlc = d.HLC
				entry.clientID = d.ClientID
			}
		}
	}
	apply(existing)
	apply(incoming)

	// The merged clock is the maximum over every contribution, and the
	// merged clientId follows whichever delta supplied that maximum.
	maxHLC := deleteHLC
	clientID := ""
	if existing.Op == OpDelete && existing.HLC == deleteHLC {
		clientID = existing.ClientID
	}
	if incoming.Op == OpDelete && incoming.HLC == deleteHLC {
		clientID = incoming.ClientID
	}

	names := make([]string, 0, len(cols))
	for name, entry := range cols {
		names = append(names, name)
		if entry.hlc > maxHLC || (entry.hlc == maxHLC && entry.clientID > clientID) {
			maxHLC = entry.hlc
			clientID = entry.clientID
		}
	}
	sort.Strings(names)

	// Columns at or below the delete clock were overwritten by the
	// delete; only later writes survive.
	live := make([]ColumnValue, 0, len(names))
	for _, name := range names {
		if entry := cols[name]; entry.hlc > deleteHLC {
			live = append(live, ColumnValue{Column: name, Value: entry.value})
		}
	}

	merged := RowDelta{
		Op:       OpInsert,
		Table:    existing.Table,
		RowID:    existing.RowID,
		ClientID: clientID,
		Columns:  live,
		HLC:      maxHLC,
	}
	if len(live) == 0 {
		merged.Op = OpDelete
		merged.Columns = nil
	}
	merged.DeltaID = Fingerprint(&merged)

	return merged
}
