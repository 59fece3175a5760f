package models

// Operation is the kind of a proposed change.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ProposedChange is one field-level edit in a batch.
//
// For updates FieldPath addresses the field and NewValue is its value
// (nil removes the field). For creates NewValue holds the whole payload
// and FieldPath is empty. OriginalValue is informational only.
type ProposedChange struct {
	Operation     Operation `json:"operation,omitempty" yaml:"operation,omitempty"`
	EntityType    string    `json:"entityType" yaml:"entityType"`
	EntityID      string    `json:"entityId" yaml:"entityId"`
	FieldPath     string    `json:"fieldPath,omitempty" yaml:"fieldPath,omitempty"`
	OriginalValue any       `json:"originalValue,omitempty" yaml:"originalValue,omitempty"`
	NewValue      any       `json:"newValue,omitempty" yaml:"newValue,omitempty"`
	Delete        bool      `json:"delete,omitempty" yaml:"delete,omitempty"`
}

// Kind returns the effective operation. An explicit Operation wins; else
// the Delete marker means delete, an empty FieldPath means create and
// anything else is an update.
func (c ProposedChange) Kind() Operation {
	switch {
	case c.Operation != "":
		return c.Operation
	case c.Delete:
		return OpDelete
	case c.FieldPath == "":
		return OpCreate
	default:
		return OpUpdate
	}
}
