// Package tenancy decides which ownership scopes and which timeline apply to a read or
// write. Write tenancies name exactly one owner; read tenancies expand that owner into
// every ancestor scope that may be read, plus the universal scope used by built-in
// schema definitions.
package tenancy

import (
	"context"
	"fmt"
	"strings"
)

// BillingAccountID identifies a billing account.
type BillingAccountID string

// OrganizationID identifies an organization inside a billing account.
type OrganizationID string

// WorkspaceID identifies a workspace inside an organization.
type WorkspaceID string

// Key prefixes used when a tenancy is stored in a single column.
const (
	KeyUniversal      = "universal"
	keyBillingAccount = "billing_account"
	keyOrganization   = "organization"
	keyWorkspace      = "workspace"
)

// WriteTenancy is the single scope a record is written under.
type WriteTenancy struct {
	Universal        bool             `json:"universal"`
	BillingAccountID BillingAccountID `json:"billing_account_id,omitempty"`
	OrganizationID   OrganizationID   `json:"organization_id,omitempty"`
	WorkspaceID      WorkspaceID      `json:"workspace_id,omitempty"`
}

// NewUniversal returns the tenancy used for built-in definitions.
func NewUniversal() WriteTenancy {
	return WriteTenancy{Universal: true}
}

// NewBillingAccount returns a tenancy owned by a billing account.
func NewBillingAccount(id BillingAccountID) WriteTenancy {
	return WriteTenancy{BillingAccountID: id}
}

// NewOrganization returns a tenancy owned by an organization.
func NewOrganization(id OrganizationID) WriteTenancy {
	return WriteTenancy{OrganizationID: id}
}

// NewWorkspace returns a tenancy owned by a workspace.
func NewWorkspace(id WorkspaceID) WriteTenancy {
	return WriteTenancy{WorkspaceID: id}
}

// owners counts the concrete owner ids that are set.
func (w WriteTenancy) owners() int {
	n := 0
	if w.BillingAccountID != "" {
		n++
	}
	if w.OrganizationID != "" {
		n++
	}
	if w.WorkspaceID != "" {
		n++
	}
	return n
}

// IsConcrete reports whether the tenancy names exactly one owner and is not universal.
func (w WriteTenancy) IsConcrete() bool {
	return !w.Universal && w.owners() == 1
}

// Validate checks that the tenancy is either universal or owned by exactly one scope.
func (w WriteTenancy) Validate() error {
	switch {
	case w.Universal && w.owners() > 0:
		return fmt.Errorf("universal tenancy cannot name an owner")
	case !w.Universal && w.owners() != 1:
		return fmt.Errorf("write tenancy must name exactly one owner, got %d", w.owners())
	}
	return nil
}

// Key returns the storage key for the tenancy, e.g. "workspace:1234".
func (w WriteTenancy) Key() string {
	switch {
	case w.Universal:
		return KeyUniversal
	case w.WorkspaceID != "":
		return keyWorkspace + ":" + string(w.WorkspaceID)
	case w.OrganizationID != "":
		return keyOrganization + ":" + string(w.OrganizationID)
	case w.BillingAccountID != "":
		return keyBillingAccount + ":" + string(w.BillingAccountID)
	}
	return ""
}

// Subject returns the change notification subject for records written under this
// tenancy. Universal records have no subject.
func (w WriteTenancy) Subject() string {
	if !w.IsConcrete() {
		return ""
	}
	return strings.Replace(w.Key(), ":", ".", 1)
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (WriteTenancy, error) {
	if key == KeyUniversal {
		return NewUniversal(), nil
	}
	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return WriteTenancy{}, fmt.Errorf("malformed tenancy key %q", key)
	}
	switch kind {
	case keyWorkspace:
		return NewWorkspace(WorkspaceID(id)), nil
	case keyOrganization:
		return NewOrganization(OrganizationID(id)), nil
	case keyBillingAccount:
		return NewBillingAccount(BillingAccountID(id)), nil
	}
	return WriteTenancy{}, fmt.Errorf("unknown tenancy kind %q", kind)
}

// ReadTenancy is the set of scopes visible to a reader.
type ReadTenancy struct {
	Universal         bool               `json:"universal"`
	BillingAccountIDs []BillingAccountID `json:"billing_account_ids,omitempty"`
	OrganizationIDs   []OrganizationID   `json:"organization_ids,omitempty"`
	WorkspaceIDs      []WorkspaceID      `json:"workspace_ids,omitempty"`
}

// Keys returns the storage keys of every scope in the read tenancy.
func (r ReadTenancy) Keys() []string {
	keys := make([]string, 0, 1+len(r.BillingAccountIDs)+len(r.OrganizationIDs)+len(r.WorkspaceIDs))
	if r.Universal {
		keys = append(keys, KeyUniversal)
	}
	for _, id := range r.BillingAccountIDs {
		keys = append(keys, NewBillingAccount(id).Key())
	}
	for _, id := range r.OrganizationIDs {
		keys = append(keys, NewOrganization(id).Key())
	}
	for _, id := range r.WorkspaceIDs {
		keys = append(keys, NewWorkspace(id).Key())
	}
	return keys
}

// Admits reports whether a record written under w is readable.
func (r ReadTenancy) Admits(w WriteTenancy) bool {
	key := w.Key()
	for _, k := range r.Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Directory resolves the ancestry of tenancy scopes.
type Directory interface {
	OrganizationForWorkspace(ctx context.Context, id WorkspaceID) (OrganizationID, error)
	BillingAccountForOrganization(ctx context.Context, id OrganizationID) (BillingAccountID, error)
}

// Expand builds the read tenancy for a write tenancy. The universal scope is always
// readable so that built-in schemas resolve from any workspace.
func Expand(ctx context.Context, dir Directory, w WriteTenancy) (ReadTenancy, error) {
	if err := w.Validate(); err != nil {
		return ReadTenancy{}, err
	}

	rt := ReadTenancy{Universal: true}
	orgID := w.OrganizationID
	billingID := w.BillingAccountID

	if w.WorkspaceID != "" {
		rt.WorkspaceIDs = []WorkspaceID{w.WorkspaceID}
		id, err := dir.OrganizationForWorkspace(ctx, w.WorkspaceID)
		if err != nil {
			return ReadTenancy{}, fmt.Errorf("failed to resolve organization for workspace %s: %w", w.WorkspaceID, err)
		}
		orgID = id
	}
	if orgID != "" {
		rt.OrganizationIDs = []OrganizationID{orgID}
		id, err := dir.BillingAccountForOrganization(ctx, orgID)
		if err != nil {
			return ReadTenancy{}, fmt.Errorf("failed to resolve billing account for organization %s: %w", orgID, err)
		}
		billingID = id
	}
	if billingID != "" {
		rt.BillingAccountIDs = []BillingAccountID{billingID}
	}

	return rt, nil
}
