package engine

import (
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/store"
	"github.com/graphcore/engine/internal/wal"
)

// recoverWAL replays every committed transaction's entries from the
// start of the (already checkpoint-truncated) log into the stores and
// indexes, per spec §6.4 step (2) "WAL replay from last checkpoint".
// It mutates stores directly rather than through the exec package's
// Create/Set helpers, since those helpers append their own WAL entries
// — replaying must reproduce state, not grow the log further.
//
// It returns the epoch to resume the manager at (the highest epoch any
// replayed entry carried, since a transaction's WAL entries are always
// stamped with its final committed epoch — see txn.WriteTxn.OwnWriteEpoch)
// and the WAL's resulting offset.
func recoverWAL(g *exec.Graph, w *wal.WAL) (uint64, int64, error) {
	var maxEpoch uint64
	_, err := w.Replay(0, func(e wal.Entry) error {
		if e.Epoch > maxEpoch {
			maxEpoch = e.Epoch
		}
		return applyReplayedEntry(g, e)
	})
	if err != nil {
		return 0, 0, err
	}
	return maxEpoch, w.CurrentOffset(), nil
}

func applyReplayedEntry(g *exec.Graph, e wal.Entry) error {
	switch e.Kind {
	case wal.KindBeginTx, wal.KindCommitTx, wal.KindAbortTx, wal.KindCheckpoint:
		return nil
	case wal.KindCreateNode:
		p := wal.DecodeCreateNode(e.Payload)
		if err := g.Nodes.CreateAtSlot(p.ID, p.Labels, e.Epoch); err != nil {
			return err
		}
		for bit := uint(0); bit < 64; bit++ {
			if p.Labels&(1<<bit) != 0 {
				g.Labels.Add(uint32(bit), p.ID)
				g.Catalog.AdjustNodeCount(uint32(bit), 1)
			}
		}
		return nil
	case wal.KindDeleteNode:
		p := wal.DecodeDeleteNode(e.Payload)
		n, err := g.Nodes.Read(p.ID)
		if err != nil {
			return err
		}
		if err := g.Nodes.MarkDeleted(p.ID, e.Epoch); err != nil {
			return err
		}
		for bit := uint(0); bit < 64; bit++ {
			if n.Labels&(1<<bit) != 0 {
				g.Labels.Remove(uint32(bit), p.ID)
				g.Catalog.AdjustNodeCount(uint32(bit), -1)
				if idx, ok := g.Vectors[uint32(bit)]; ok {
					idx.Remove(p.ID)
				}
			}
		}
		return nil
	case wal.KindCreateRel:
		p := wal.DecodeCreateRel(e.Payload)
		if err := g.Rels.CreateAtSlot(p.ID, p.Src, p.Dst, p.TypeID, e.Epoch, g.Nodes); err != nil {
			return err
		}
		g.Catalog.AdjustRelCount(p.TypeID, 1)
		return nil
	case wal.KindDeleteRel:
		p := wal.DecodeDeleteRel(e.Payload)
		r, err := g.Rels.Read(p.ID)
		if err != nil {
			return err
		}
		if err := g.Rels.Delete(p.ID, e.Epoch, g.Nodes); err != nil {
			return err
		}
		g.Catalog.AdjustRelCount(r.TypeID, -1)
		return nil
	case wal.KindSetProperty:
		p := wal.DecodeSetProperty(e.Payload)
		return applyReplayedProperty(g, p)
	case wal.KindDeleteProperty:
		p := wal.DecodeDeleteProperty(e.Payload)
		return applyReplayedProperty(g, wal.SetPropertyPayload{Owner: p.Owner, OwnerID: p.OwnerID, KeyID: p.KeyID, ValType: uint8(store.TypeNull)})
	default:
		return nil
	}
}

func applyReplayedProperty(g *exec.Graph, p wal.SetPropertyPayload) error {
	switch p.Owner {
	case wal.OwnerNode:
		n, err := g.Nodes.Read(p.OwnerID)
		if err != nil {
			return err
		}
		slot, err := g.Props.Prepend(p.KeyID, store.ValueType(p.ValType), p.Value, n.FirstPropPtr)
		if err != nil {
			return err
		}
		if err := g.Nodes.SetFirstPropPtr(p.OwnerID, store.HeadPtr(slot)); err != nil {
			return err
		}
		if store.ValueType(p.ValType) != store.TypeNull {
			g.Catalog.AdjustPropertyCount(1)
		}
		return nil
	case wal.OwnerRel:
		r, err := g.Rels.Read(p.OwnerID)
		if err != nil {
			return err
		}
		slot, err := g.Props.Prepend(p.KeyID, store.ValueType(p.ValType), p.Value, r.PropPtr)
		if err != nil {
			return err
		}
		if err := g.Rels.SetPropPtr(p.OwnerID, store.HeadPtr(slot)); err != nil {
			return err
		}
		if store.ValueType(p.ValType) != store.TypeNull {
			g.Catalog.AdjustPropertyCount(1)
		}
		return nil
	default:
		return nil
	}
}
