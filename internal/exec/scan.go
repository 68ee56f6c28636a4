package exec

// NodeByLabel iterates the label bitmap for labelID, emitting one row
// per live node bound to Var (spec §4.9 "iterate the label bitmap,
// emit one row per live node").
type NodeByLabel struct {
	LabelID uint32
	Var     string

	ctx *Ctx
	ids []uint64
	pos int
}

func (o *NodeByLabel) Open(ctx *Ctx) error {
	o.ctx = ctx
	o.ids = ctx.Graph.Labels.Iterator(o.LabelID)
	o.pos = 0
	return nil
}

func (o *NodeByLabel) Next() (Row, bool, error) {
	for o.pos < len(o.ids) {
		id := o.ids[o.pos]
		o.pos++
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		visible, err := o.ctx.Graph.Nodes.VisibleAt(id, o.ctx.ReadEpoch())
		if err != nil {
			return nil, false, err
		}
		if !visible {
			continue
		}
		return Row{o.Var: VNode(id)}, true, nil
	}
	return nil, false, nil
}

func (o *NodeByLabel) Close() error { return nil }

// AllNodes scans every node slot; used when no label predicate narrows
// the seed (a full scan is the documented fallback for unlabeled
// MATCH patterns).
type AllNodes struct {
	Var string

	ctx    *Ctx
	nextID uint64
}

func (o *AllNodes) Open(ctx *Ctx) error {
	o.ctx = ctx
	o.nextID = 0
	return nil
}

func (o *AllNodes) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		id := o.nextID
		n, err := o.ctx.Graph.Nodes.Read(id)
		if err != nil {
			return nil, false, nil // past end of the store
		}
		o.nextID++
		visible, err := o.ctx.Graph.Nodes.VisibleAt(n.ID, o.ctx.ReadEpoch())
		if err != nil {
			return nil, false, err
		}
		if !visible {
			continue
		}
		return Row{o.Var: VNode(n.ID)}, true, nil
	}
}

func (o *AllNodes) Close() error { return nil }

// SingleNode seeds the pipeline from a parameter-resolved node id
// (spec §4.8 rule 2 "parameter-seeded node lookup").
type SingleNode struct {
	Var string
	ID  uint64

	ctx  *Ctx
	done bool
}

func (o *SingleNode) Open(ctx *Ctx) error { o.ctx = ctx; o.done = false; return nil }

func (o *SingleNode) Next() (Row, bool, error) {
	if o.done {
		return nil, false, nil
	}
	o.done = true
	visible, err := o.ctx.Graph.Nodes.VisibleAt(o.ID, o.ctx.ReadEpoch())
	if err != nil || !visible {
		return nil, false, err
	}
	return Row{o.Var: VNode(o.ID)}, true, nil
}

func (o *SingleNode) Close() error { return nil }
