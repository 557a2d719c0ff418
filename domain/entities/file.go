package entities

// FileOpenOptions mirrors the flags a core may request when opening a file.
type FileOpenOptions struct {
	CreateNew bool `json:"create_new"`
	Create    bool `json:"create"`
	Truncate  bool `json:"truncate"`
	Append    bool `json:"append"`
	Write     bool `json:"write"`
	Read      bool `json:"read"`
}
