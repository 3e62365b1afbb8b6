package model

type View string

const (
	ViewList    View = "list"
	ViewGrid    View = "grid"
	ViewMindmap View = "mindmap"
)

// Preferences holds the user-editable part of the settings row.
type Preferences struct {
	ValidationEnabled bool `json:"validation_enabled"`
	DefaultView       View `json:"default_view"`
}

// Settings is the full settings record returned to the client.
type Settings struct {
	Snapshot
	Preferences
}
