package tshost

import (
	"sort"
	"strings"

	"github.com/dshills/apisurface/pkg/types"
)

// buildIndex derives the use-def tables from the parsed files. It runs once
// after loading; the tables are read-only afterwards.
func (h *Host) buildIndex() {
	h.refs = make(map[target][]types.UsageSite)
	h.importers = make(map[string][]types.UsageSite)
	h.accessesByProp = make(map[string][]access)
	h.bindingsByType = make(map[string][]binding)

	for _, p := range h.paths {
		f := h.files[p]

		for name := range f.decls {
			t := target{file: f.path, name: name}
			for _, line := range f.idents[name] {
				h.refs[t] = append(h.refs[t], types.UsageSite{FilePath: f.path, Line: line})
			}
		}

		nsLocals := make(map[string]string)
		for _, imp := range f.imports {
			m, ok := h.resolveModule(f.path, imp.source)
			if !ok {
				continue
			}
			h.importers[m] = append(h.importers[m], types.UsageSite{FilePath: f.path, Line: imp.line})
			if imp.local == "" {
				continue
			}
			if imp.imported == "*" {
				nsLocals[imp.local] = m
				continue
			}
			t, ok := h.resolveExport(m, imp.imported)
			if !ok {
				continue
			}
			if t.isNamespace() {
				nsLocals[imp.local] = t.module
				continue
			}
			for _, line := range f.idents[imp.local] {
				h.refs[t] = append(h.refs[t], types.UsageSite{FilePath: f.path, Line: line})
			}
		}
		for _, e := range f.exports {
			if e.form != exportFrom && e.form != exportStar && e.form != exportNamespace {
				continue
			}
			if m, ok := h.resolveModule(f.path, e.source); ok {
				h.importers[m] = append(h.importers[m], types.UsageSite{FilePath: f.path, Line: e.line})
			}
		}

		for _, a := range f.accesses {
			h.accessesByProp[a.prop] = append(h.accessesByProp[a.prop], a)
			m, ok := nsLocals[a.object]
			if !ok {
				continue
			}
			if t, ok := h.resolveExport(m, a.prop); ok && !t.isNamespace() {
				h.refs[t] = append(h.refs[t], types.UsageSite{FilePath: f.path, Line: a.line})
			}
		}

		for _, b := range f.bindings {
			for _, tn := range uniq(b.types) {
				h.bindingsByType[tn] = append(h.bindingsByType[tn], b)
			}
		}
	}

	for t, sites := range h.refs {
		h.refs[t] = sortSites(sites)
	}
	for m, sites := range h.importers {
		h.importers[m] = sortSites(sites)
	}
}

// memberRefs finds accesses of member through bindings annotated with one
// of owners. A binding only counts within the unit scope that declares it.
func (h *Host) memberRefs(owners []string, member string) []types.UsageSite {
	if len(owners) == 0 || member == "" {
		return nil
	}
	scopes := make(map[string]map[string]bool)
	for _, o := range owners {
		for _, b := range h.bindingsByType[o] {
			s := h.scopeOf(b.file)
			if scopes[s] == nil {
				scopes[s] = make(map[string]bool)
			}
			scopes[s][b.name] = true
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	var out []types.UsageSite
	for _, a := range h.accessesByProp[member] {
		if names := scopes[h.scopeOf(a.file)]; names[a.object] {
			out = append(out, types.UsageSite{FilePath: a.file, Line: a.line})
		}
	}
	return sortSites(out)
}

// scopeOf returns the nearest manifest directory above file, or the file's
// top-level directory when there is none.
func (h *Host) scopeOf(file string) string {
	best := ""
	for _, d := range h.manifestDirs {
		if (d == "." || strings.HasPrefix(file, d+"/")) && len(d) > len(best) {
			best = d
		}
	}
	if best != "" {
		return best
	}
	if i := strings.IndexByte(file, '/'); i >= 0 {
		return file[:i]
	}
	return ""
}

func sortSites(sites []types.UsageSite) []types.UsageSite {
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].FilePath != sites[j].FilePath {
			return sites[i].FilePath < sites[j].FilePath
		}
		return sites[i].Line < sites[j].Line
	})
	out := sites[:0]
	for i, s := range sites {
		if i > 0 && s == sites[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func uniq(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := ss[:0:0]
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
