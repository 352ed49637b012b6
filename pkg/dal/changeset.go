package dal

import (
	"fmt"
	"time"

	"github.com/Tensibai/si/pkg/stores"
	"github.com/Tensibai/si/pkg/tenancy"
)

// ChangeSet is a draft timeline branched from head.
type ChangeSet struct {
	stores.ChangeSetRow
	Tenancy tenancy.WriteTenancy `json:"tenancy"`
}

// NewChangeSet opens a change set owned by the context's write tenancy.
func NewChangeSet(dc *Context, name, note string) (*ChangeSet, error) {
	now := time.Now().UTC()
	cs := &ChangeSet{
		ChangeSetRow: stores.ChangeSetRow{
			PK:         tenancy.ChangeSetPK(NewID()),
			Name:       name,
			Note:       note,
			Status:     stores.ChangeSetStatusOpen,
			TenancyKey: dc.WriteTenancy().Key(),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		Tenancy: dc.WriteTenancy(),
	}
	if err := stores.InsertChangeSet(dc, dc.Tx(), &cs.ChangeSetRow); err != nil {
		return nil, err
	}
	if err := dc.Bus().Publish(cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// GetChangeSet loads a change set.
func GetChangeSet(dc *Context, pk tenancy.ChangeSetPK) (*ChangeSet, error) {
	row, err := stores.GetChangeSet(dc, dc.Tx(), pk)
	if err != nil {
		return nil, err
	}
	wt, err := tenancy.ParseKey(row.TenancyKey)
	if err != nil {
		return nil, err
	}
	return &ChangeSet{ChangeSetRow: *row, Tenancy: wt}, nil
}

// ListOpenChangeSets lists the open change sets of the context's write tenancy.
func ListOpenChangeSets(dc *Context) ([]*ChangeSet, error) {
	rows, err := stores.ListOpenChangeSets(dc, dc.Tx(), dc.WriteTenancy().Key())
	if err != nil {
		return nil, err
	}
	out := make([]*ChangeSet, 0, len(rows))
	for _, row := range rows {
		out = append(out, &ChangeSet{ChangeSetRow: *row, Tenancy: dc.WriteTenancy()})
	}
	return out, nil
}

// Visibility returns the visibility that reads and writes this change set.
func (cs *ChangeSet) Visibility() tenancy.Visibility {
	return tenancy.NewChangeSet(cs.PK)
}

// Apply promotes every record written in the change set to head and marks it applied.
// It returns the number of promoted rows.
func (cs *ChangeSet) Apply(dc *Context) (int64, error) {
	if cs.Status != stores.ChangeSetStatusOpen {
		return 0, fmt.Errorf("change set %s is %s", cs.PK, cs.Status)
	}
	n, err := stores.PromoteChangeSet(dc, dc.Tx(), cs.PK)
	if err != nil {
		return 0, err
	}
	if err := stores.UpdateChangeSetStatus(dc, dc.Tx(), cs.PK, stores.ChangeSetStatusApplied); err != nil {
		return 0, err
	}
	cs.Status = stores.ChangeSetStatusApplied
	cs.UpdatedAt = time.Now().UTC()

	dc.Log().WithField("change_set_pk", cs.PK).WithField("rows", n).Info("change set applied")
	if err := dc.Telemetry().Events.PublishChangeSetApplied(string(cs.PK), n); err != nil {
		dc.Log().WithError(err).Warn("failed to publish change set event")
	}
	return n, dc.Bus().Publish(cs)
}

// Abandon closes the change set without promoting it.
func (cs *ChangeSet) Abandon(dc *Context) error {
	if err := stores.UpdateChangeSetStatus(dc, dc.Tx(), cs.PK, stores.ChangeSetStatusAbandoned); err != nil {
		return err
	}
	cs.Status = stores.ChangeSetStatusAbandoned
	return dc.Bus().Publish(cs)
}

// EditSession is a short-lived draft nested in a change set.
type EditSession struct {
	stores.EditSessionRow
	Tenancy tenancy.WriteTenancy `json:"tenancy"`
}

// NewEditSession opens an edit session inside cs.
func NewEditSession(dc *Context, cs tenancy.ChangeSetPK, name string) (*EditSession, error) {
	now := time.Now().UTC()
	es := &EditSession{
		EditSessionRow: stores.EditSessionRow{
			PK:          tenancy.EditSessionPK(NewID()),
			ChangeSetPK: cs,
			Name:        name,
			Status:      stores.EditSessionStatusOpen,
			TenancyKey:  dc.WriteTenancy().Key(),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Tenancy: dc.WriteTenancy(),
	}
	if err := stores.InsertEditSession(dc, dc.Tx(), &es.EditSessionRow); err != nil {
		return nil, err
	}
	return es, dc.Bus().Publish(es)
}

// Visibility returns the visibility that reads and writes this edit session.
func (es *EditSession) Visibility() tenancy.Visibility {
	return tenancy.NewEditSession(es.ChangeSetPK, es.PK)
}

// Save folds the edit session's records into its change set.
func (es *EditSession) Save(dc *Context) (int64, error) {
	n, err := stores.PromoteEditSession(dc, dc.Tx(), es.ChangeSetPK, es.PK)
	if err != nil {
		return 0, err
	}
	if err := stores.UpdateEditSessionStatus(dc, dc.Tx(), es.PK, stores.EditSessionStatusSaved); err != nil {
		return 0, err
	}
	es.Status = stores.EditSessionStatusSaved
	return n, dc.Bus().Publish(es)
}

// Cancel discards the edit session's records.
func (es *EditSession) Cancel(dc *Context) error {
	if err := stores.DiscardEditSession(dc, dc.Tx(), es.ChangeSetPK, es.PK); err != nil {
		return err
	}
	if err := stores.UpdateEditSessionStatus(dc, dc.Tx(), es.PK, stores.EditSessionStatusCanceled); err != nil {
		return err
	}
	es.Status = stores.EditSessionStatusCanceled
	return dc.Bus().Publish(es)
}
