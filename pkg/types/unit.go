package types

import "strings"

// OwningUnit is an ownership-bounded grouping of modules (a plugin).
type OwningUnit struct {
	Name      string `json:"name"`
	TeamOwner string `json:"team"`
	RootPath  string `json:"path"` // repo-relative, no trailing slash
}

// Contains reports whether the repo-relative path lives under the unit root.
func (u OwningUnit) Contains(path string) bool {
	if u.RootPath == "" {
		return false
	}
	return path == u.RootPath || strings.HasPrefix(path, u.RootPath+"/")
}

// Validate checks the unit is addressable.
func (u OwningUnit) Validate() error {
	if u.Name == "" {
		return ErrEmptyName
	}
	if u.RootPath == "" {
		return ErrEmptyFilePath
	}
	return nil
}
