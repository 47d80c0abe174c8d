// Package report renders the API surface of a snapshot as markdown, and as
// HTML through gomarkdown.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	gmparser "github.com/gomarkdown/markdown/parser"

	"github.com/dshills/apisurface/internal/catalog"
	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/internal/storage"
)

// Options selects the snapshot and units to report on.
type Options struct {
	CommitHash string   // default: latest
	Units      []string // default: every unit
	Top        int      // consumers listed per API (default: 5)
	Unused     bool     // include APIs without cross-boundary references
}

// Report is the API surface of a snapshot, unit by unit.
type Report struct {
	Repo     string
	Snapshot *storage.SnapshotRecord
	Units    []UnitSection
}

// UnitSection is one unit's part of the report.
type UnitSection struct {
	Unit      snapshot.UnitDocument
	APIs      []APIRow
	Unused    int
	Consumers []catalog.Tally
}

// APIRow is one API element with its heaviest consumers.
type APIRow struct {
	API       snapshot.APIDocument
	Consumers []catalog.Tally
}

// Build gathers the report from the catalog.
func Build(ctx context.Context, c *catalog.Catalog, opts Options) (*Report, error) {
	if opts.Top <= 0 {
		opts.Top = 5
	}
	snap, err := c.Snapshot(ctx, opts.CommitHash)
	if err != nil {
		return nil, err
	}
	commit := opts.CommitHash

	units, err := c.Units(ctx, commit)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(opts.Units))
	for _, u := range opts.Units {
		want[u] = true
	}

	r := &Report{Repo: c.Repo(), Snapshot: snap}
	for _, u := range units {
		if len(want) > 0 && !want[u.Name] {
			continue
		}
		sec, err := section(ctx, c, commit, u, opts)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}
		r.Units = append(r.Units, sec)
	}
	return r, nil
}

func section(ctx context.Context, c *catalog.Catalog, commit string, u snapshot.UnitDocument, opts Options) (UnitSection, error) {
	sec := UnitSection{Unit: u}
	apis, err := c.UnitAPI(ctx, commit, u.Name, catalog.APIFilter{OrderRef: true})
	if err != nil {
		return sec, err
	}
	refs, err := c.UnitConsumers(ctx, commit, u.Name)
	if err != nil {
		return sec, err
	}
	sec.Consumers = catalog.ByConsumer(refs)

	byAPI := make(map[string][]snapshot.ReferenceDocument)
	for _, ref := range refs {
		byAPI[ref.Source.APIID] = append(byAPI[ref.Source.APIID], ref)
	}
	for _, a := range apis {
		if a.CrossBoundaryRefCount == 0 {
			sec.Unused++
			if !opts.Unused {
				continue
			}
		}
		top := catalog.ByConsumer(byAPI[a.ID])
		if len(top) > opts.Top {
			top = top[:opts.Top]
		}
		sec.APIs = append(sec.APIs, APIRow{API: a, Consumers: top})
	}
	return sec, nil
}

// Markdown renders the report.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# API surface of %s\n\n", r.Repo)
	fmt.Fprintf(&b, "Commit `%s` from %s", r.Snapshot.CommitHash, r.Snapshot.CommitDate.UTC().Format("2006-01-02"))
	if r.Snapshot.IsLatest {
		b.WriteString(" (latest)")
	} else if r.Snapshot.CheckoutDate != "" {
		fmt.Fprintf(&b, " (checked out for %s)", r.Snapshot.CheckoutDate)
	}
	b.WriteString(".\n\n")

	b.WriteString("| Unit | Team | APIs | References |\n|---|---|---:|---:|\n")
	for _, s := range r.Units {
		fmt.Fprintf(&b, "| %s | %s | %d | %d |\n", s.Unit.Name, cell(s.Unit.TeamOwner), s.Unit.APICount, s.Unit.RefCount)
	}

	for _, s := range r.Units {
		fmt.Fprintf(&b, "\n## %s\n\n", s.Unit.Name)
		fmt.Fprintf(&b, "Owned by %s, rooted at `%s`.\n", cell(s.Unit.TeamOwner), s.Unit.RootPath)
		if len(s.Consumers) > 0 {
			b.WriteString("\nConsumed by: ")
			b.WriteString(tallies(s.Consumers))
			b.WriteString(".\n")
		}
		if len(s.APIs) == 0 {
			b.WriteString("\nNo referenced APIs.\n")
		} else {
			b.WriteString("\n| API | Kind | Lifecycle | References | Top consumers |\n|---|---|---|---:|---|\n")
			for _, row := range s.APIs {
				a := row.API
				stage := "static"
				if !a.IsStatic {
					stage = string(a.Stage)
				}
				fmt.Fprintf(&b, "| `%s` | %s | %s | %d | %s |\n",
					a.ID, a.Kind, stage, a.CrossBoundaryRefCount, cell(tallies(row.Consumers)))
			}
		}
		if s.Unused > 0 {
			fmt.Fprintf(&b, "\n%d exported API(s) have no cross-boundary references.\n", s.Unused)
		}
	}
	return b.String()
}

// HTML renders the markdown report as a standalone HTML page.
func (r *Report) HTML() []byte {
	p := gmparser.NewWithExtensions(gmparser.CommonExtensions | gmparser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: "API surface of " + r.Repo,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return gm.ToHTML([]byte(r.Markdown()), p, renderer)
}

// Format names an output format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Write renders the report to w in format f.
func (r *Report) Write(w io.Writer, f Format) error {
	var out []byte
	switch f {
	case FormatMarkdown, "md", "":
		out = []byte(r.Markdown())
	case FormatHTML:
		out = r.HTML()
	default:
		return fmt.Errorf("unknown report format %q", f)
	}
	_, err := w.Write(out)
	return err
}

func tallies(ts []catalog.Tally) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = fmt.Sprintf("%s (%d)", t.Unit, t.Count)
	}
	return strings.Join(parts, ", ")
}

// cell escapes pipes so values cannot break a table row.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}
