package classifier

import "strings"

// Role is the part a module plays in a unit.
type Role int

const (
	RoleNone Role = iota
	RoleIndex
	RolePlugin
)

func (r Role) String() string {
	switch r {
	case RoleIndex:
		return "index"
	case RolePlugin:
		return "plugin"
	default:
		return "none"
	}
}

// DefaultIndexFiles are the path suffixes of index modules.
var DefaultIndexFiles = []string{"public/index.ts", "server/index.ts"}

// DefaultPluginFiles are the path suffixes of plugin modules.
var DefaultPluginFiles = []string{"public/plugin.ts", "public/plugin.tsx", "server/plugin.ts"}

// RoleOf matches a module path against the index and plugin suffixes.
func RoleOf(path string, indexFiles, pluginFiles []string) Role {
	for _, s := range indexFiles {
		if hasPathSuffix(path, s) {
			return RoleIndex
		}
	}
	for _, s := range pluginFiles {
		if hasPathSuffix(path, s) {
			return RolePlugin
		}
	}
	return RoleNone
}

func hasPathSuffix(path, suffix string) bool {
	return path == suffix || strings.HasSuffix(path, "/"+suffix)
}
