package tenancy

import "fmt"

// ChangeSetPK identifies a change set, a long-lived draft branch of head.
type ChangeSetPK string

// EditSessionPK identifies an edit session nested inside a change set.
type EditSessionPK string

// Visibility selects a timeline. The zero value is head.
type Visibility struct {
	ChangeSetPK   ChangeSetPK   `json:"change_set_pk,omitempty"`
	EditSessionPK EditSessionPK `json:"edit_session_pk,omitempty"`
	Deleted       bool          `json:"deleted,omitempty"`
}

// Head returns the committed timeline.
func Head() Visibility {
	return Visibility{}
}

// NewChangeSet returns the visibility of a change set.
func NewChangeSet(pk ChangeSetPK) Visibility {
	return Visibility{ChangeSetPK: pk}
}

// NewEditSession returns the visibility of an edit session inside a change set.
func NewEditSession(cs ChangeSetPK, es EditSessionPK) Visibility {
	return Visibility{ChangeSetPK: cs, EditSessionPK: es}
}

// IsHead reports whether v is the committed timeline.
func (v Visibility) IsHead() bool {
	return v.ChangeSetPK == "" && v.EditSessionPK == ""
}

// Validate rejects edit sessions that are not nested in a change set.
func (v Visibility) Validate() error {
	if v.EditSessionPK != "" && v.ChangeSetPK == "" {
		return fmt.Errorf("edit session %s requires a change set", v.EditSessionPK)
	}
	return nil
}

// Rank orders record visibilities: head rows rank 0, change set rows 1, edit session
// rows 2. Reads keep the highest ranked version they admit.
func (v Visibility) Rank() int {
	switch {
	case v.EditSessionPK != "":
		return 2
	case v.ChangeSetPK != "":
		return 1
	}
	return 0
}

// Admits reports whether a row stored under row is visible to a reader at v. Deleted
// rows are only visible to deleted readers.
func (v Visibility) Admits(row Visibility) bool {
	if row.Deleted && !v.Deleted {
		return false
	}
	switch row.Rank() {
	case 0:
		return true
	case 1:
		return row.ChangeSetPK == v.ChangeSetPK
	default:
		return row.ChangeSetPK == v.ChangeSetPK && row.EditSessionPK == v.EditSessionPK
	}
}

// ToDeleted returns v marked as deleted.
func (v Visibility) ToDeleted() Visibility {
	v.Deleted = true
	return v
}

func (v Visibility) String() string {
	switch {
	case v.EditSessionPK != "":
		return fmt.Sprintf("edit_session(%s/%s)", v.ChangeSetPK, v.EditSessionPK)
	case v.ChangeSetPK != "":
		return fmt.Sprintf("change_set(%s)", v.ChangeSetPK)
	}
	return "head"
}
