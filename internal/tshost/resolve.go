package tshost

import (
	"path"
	"sort"
	"strings"
)

// moduleCandidates are tried in order for a specifier without an extension.
var moduleCandidates = []string{".ts", ".tsx", ".d.ts", "/index.ts", "/index.tsx", "/index.d.ts"}

// resolveModule maps an import specifier used in file from to a known module
// path. Relative specifiers resolve against the importer's directory;
// others go through the alias table and then the base directories.
func (h *Host) resolveModule(from, spec string) (string, bool) {
	if spec == "" {
		return "", false
	}
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || spec == "." || spec == ".." {
		return h.probe(path.Join(path.Dir(from), spec))
	}
	for _, a := range h.aliases {
		if spec == a.prefix || strings.HasPrefix(spec, a.prefix+"/") {
			if p, ok := h.probe(path.Join(a.target, strings.TrimPrefix(spec, a.prefix))); ok {
				return p, true
			}
		}
	}
	for _, dir := range h.baseDirs {
		if p, ok := h.probe(path.Join(dir, spec)); ok {
			return p, true
		}
	}
	return "", false
}

func (h *Host) probe(base string) (string, bool) {
	base = strings.TrimPrefix(base, "./")
	if _, ok := h.files[base]; ok {
		return base, true
	}
	for _, suffix := range moduleCandidates {
		if _, ok := h.files[base+suffix]; ok {
			return base + suffix, true
		}
	}
	return "", false
}

type exportKey struct {
	module string
	name   string
}

// resolveExport follows re-export chains until name exported by module is
// pinned to a declaration or a namespace module.
func (h *Host) resolveExport(module, name string) (target, bool) {
	return h.resolveExportSeen(module, name, make(map[exportKey]bool))
}

func (h *Host) resolveExportSeen(module, name string, seen map[exportKey]bool) (target, bool) {
	key := exportKey{module, name}
	if seen[key] {
		return target{}, false
	}
	seen[key] = true

	f, ok := h.files[module]
	if !ok {
		return target{}, false
	}

	for _, e := range f.exports {
		if e.name != name {
			continue
		}
		switch e.form {
		case exportLocal:
			return h.resolveLocal(f, e.local, seen)
		case exportFrom:
			m, ok := h.resolveModule(f.path, e.source)
			if !ok {
				return target{}, false
			}
			if e.local == "*" {
				return target{module: m}, true
			}
			return h.resolveExportSeen(m, e.local, seen)
		case exportNamespace:
			m, ok := h.resolveModule(f.path, e.source)
			if !ok {
				return target{}, false
			}
			return target{module: m}, true
		}
	}

	if name == "default" {
		return target{}, false
	}
	for _, e := range f.exports {
		if e.form != exportStar {
			continue
		}
		m, ok := h.resolveModule(f.path, e.source)
		if !ok {
			continue
		}
		if t, ok := h.resolveExportSeen(m, name, seen); ok {
			return t, true
		}
	}
	return target{}, false
}

// resolveLocal pins a name in file f's scope: a declaration of f, or an
// imported binding followed to its origin.
func (h *Host) resolveLocal(f *fileInfo, local string, seen map[exportKey]bool) (target, bool) {
	if _, ok := f.decls[local]; ok {
		return target{file: f.path, name: local}, true
	}
	for _, imp := range f.imports {
		if imp.local != local {
			continue
		}
		m, ok := h.resolveModule(f.path, imp.source)
		if !ok {
			return target{}, false
		}
		if imp.imported == "*" {
			return target{module: m}, true
		}
		return h.resolveExportSeen(m, imp.imported, seen)
	}
	return target{}, false
}

// exportNames lists every name module exports, star re-exports expanded.
func (h *Host) exportNames(module string) []string {
	seen := make(map[string]bool)
	var names []string
	var visit func(m string, visiting map[string]bool, withDefault bool)
	visit = func(m string, visiting map[string]bool, withDefault bool) {
		if visiting[m] {
			return
		}
		visiting[m] = true
		f, ok := h.files[m]
		if !ok {
			return
		}
		for _, e := range f.exports {
			switch e.form {
			case exportLocal, exportFrom, exportNamespace:
				if e.name == "default" && !withDefault {
					continue
				}
				if !seen[e.name] {
					seen[e.name] = true
					names = append(names, e.name)
				}
			case exportStar:
				if sub, ok := h.resolveModule(f.path, e.source); ok {
					visit(sub, visiting, false)
				}
			}
		}
	}
	visit(module, make(map[string]bool), true)
	return names
}

// lookupType finds the declaration a type name written in file refers to.
func (h *Host) lookupType(file string, t *typeExpr) *declInfo {
	if t == nil || t.name == "" {
		return nil
	}
	f, ok := h.files[file]
	if !ok {
		return nil
	}
	seen := make(map[exportKey]bool)
	var tg target
	if t.qualifier != "" {
		ns, ok := h.resolveLocal(f, t.qualifier, seen)
		if !ok || !ns.isNamespace() {
			return nil
		}
		if tg, ok = h.resolveExportSeen(ns.module, t.name, seen); !ok {
			return nil
		}
	} else {
		if tg, ok = h.resolveLocal(f, t.name, seen); !ok {
			return nil
		}
	}
	return h.declAt(tg)
}

func (h *Host) declAt(t target) *declInfo {
	if t.isNamespace() {
		return nil
	}
	f, ok := h.files[t.file]
	if !ok {
		return nil
	}
	return f.decls[t.name]
}

// alias maps an import prefix to a repo-relative directory.
type alias struct {
	prefix string
	target string
}

func sortedAliases(m map[string]string) []alias {
	out := make([]alias, 0, len(m))
	for p, t := range m {
		out = append(out, alias{prefix: strings.TrimSuffix(p, "/"), target: strings.TrimSuffix(t, "/")})
	}
	// longest prefix first
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].prefix) != len(out[j].prefix) {
			return len(out[i].prefix) > len(out[j].prefix)
		}
		return out[i].prefix < out[j].prefix
	})
	return out
}
