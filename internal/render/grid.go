package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/brogergvhs/coverd/internal/extract"
	"github.com/brogergvhs/coverd/internal/util"
)

// Item is one rendered grid cell.
type Item struct {
	Record   extract.ImageRecord
	Caption  string
	Asset    Asset
	Attempt  Attempt
	Fallback bool
	// File is the asset path relative to the grid directory, set on append.
	File string
}

// Container receives rendered items in list order.
type Container interface {
	Append(ctx context.Context, items []Item) error
	Reset() error
	Last() (Item, bool)
	Len() int
	Items() []Item
}

type GridOptions struct {
	Title   string
	Dark    bool
	Density int
}

// Grid is the on-disk gallery: covers/NNNN_<name>.<ext> plus an index.html
// rewritten after every append.
type Grid struct {
	dir  string
	opts GridOptions

	mu    sync.Mutex
	items []Item
}

func NewGrid(dir string, opts GridOptions) (*Grid, error) {
	if opts.Density < 1 {
		opts.Density = 4
	}
	if opts.Title == "" {
		opts.Title = "Covers"
	}

	if err := os.MkdirAll(filepath.Join(dir, "covers"), 0755); err != nil {
		return nil, fmt.Errorf("creating grid directory: %w", err)
	}

	g := &Grid{dir: dir, opts: opts}
	if err := g.writeIndex(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Grid) Dir() string { return g.dir }

func (g *Grid) IndexPath() string { return filepath.Join(g.dir, "index.html") }

// Append writes the assets of items and adds them to the page. The batch
// goes in whole or not at all: on failure the files already written are
// removed and the grid is left as it was.
func (g *Grid) Append(ctx context.Context, items []Item) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	added := make([]Item, 0, len(items))
	rollback := func() {
		for _, it := range added {
			_ = os.Remove(filepath.Join(g.dir, filepath.FromSlash(it.File)))
		}
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			rollback()
			return err
		}

		name := fmt.Sprintf("%04d_%s%s", len(g.items)+len(added)+1, assetName(it), assetExt(it))
		rel := path.Join("covers", name)

		if err := util.WriteFileAtomic(filepath.Join(g.dir, filepath.FromSlash(rel)), it.Asset.Data); err != nil {
			rollback()
			return fmt.Errorf("writing %s: %w", name, err)
		}

		it.File = rel
		added = append(added, it)
	}

	prev := g.items
	g.items = append(g.items[:len(g.items):len(g.items)], added...)
	if err := g.writeIndexLocked(); err != nil {
		g.items = prev
		rollback()
		return err
	}
	return nil
}

// Reset removes every cover and leaves an empty page.
func (g *Grid) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	covers := filepath.Join(g.dir, "covers")
	if err := os.RemoveAll(covers); err != nil {
		return fmt.Errorf("clearing grid: %w", err)
	}
	if err := os.MkdirAll(covers, 0755); err != nil {
		return fmt.Errorf("clearing grid: %w", err)
	}

	g.items = nil
	return g.writeIndexLocked()
}

func (g *Grid) Last() (Item, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.items) == 0 {
		return Item{}, false
	}
	return g.items[len(g.items)-1], true
}

func (g *Grid) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}

func (g *Grid) Items() []Item {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Item(nil), g.items...)
}

// Files lists the index and every asset path, for archiving.
func (g *Grid) Files() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := []string{g.IndexPath()}
	for _, it := range g.items {
		out = append(out, filepath.Join(g.dir, filepath.FromSlash(it.File)))
	}
	return out
}

// SetTheme changes the theme and density used for the next index write.
func (g *Grid) SetTheme(dark bool, density int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.opts.Dark = dark
	if density > 0 {
		g.opts.Density = density
	}
	return g.writeIndexLocked()
}

func (g *Grid) writeIndex() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writeIndexLocked()
}

func (g *Grid) writeIndexLocked() error {
	var buf bytes.Buffer
	err := indexTmpl.Execute(&buf, struct {
		GridOptions
		Items []Item
	}{g.opts, g.items})
	if err != nil {
		return fmt.Errorf("rendering index: %w", err)
	}

	return util.WriteFileAtomic(g.IndexPath(), buf.Bytes())
}

var reUnderscore = regexp.MustCompile(`_+`)

func sanitize(s string) string {
	s = strings.ToLower(s)

	repl := strings.NewReplacer(
		"•", "_", "-", "_", "—", "_", "–", "_",
		"/", "_", "\\", "_", ".", "_", " ", "_",
		"(", "", ")", "",
	)
	s = repl.Replace(s)

	clean := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			clean = append(clean, r)
		}
	}

	s = reUnderscore.ReplaceAllString(string(clean), "_")
	s = strings.Trim(s, "_")

	if r := []rune(s); len(r) > 60 {
		s = strings.TrimRight(string(r[:60]), "_")
	}
	return s
}

func assetName(it Item) string {
	if it.Fallback {
		return "fallback"
	}
	if n := sanitize(it.Caption); n != "" {
		return n
	}

	base := path.Base(it.Record.ImageURL)
	base = strings.TrimSuffix(base, path.Ext(base))
	if n := sanitize(base); n != "" {
		return n
	}
	return "cover"
}

func assetExt(it Item) string {
	if mt, _, err := mime.ParseMediaType(it.Asset.ContentType); err == nil {
		switch mt {
		case "image/jpeg":
			return ".jpg"
		case "image/svg+xml":
			return ".svg"
		}
		if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
			return exts[0]
		}
	}

	if ext := strings.ToLower(path.Ext(it.Record.ImageURL)); len(ext) > 1 && len(ext) <= 5 {
		return ext
	}
	return ".img"
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { margin: 0; padding: 16px; font-family: Arial, sans-serif; background: {{if .Dark}}#121212{{else}}#fafafa{{end}}; color: {{if .Dark}}#e0e0e0{{else}}#222{{end}}; }
#book-grid { display: grid; grid-template-columns: repeat({{.Density}}, 1fr); gap: 12px; }
.book { text-align: center; }
.book img { width: 100%; height: auto; border-radius: 4px; }
.book .caption { margin-top: 4px; font-size: 14px; }
a { color: inherit; text-decoration: none; }
</style>
</head>
<body class="{{if .Dark}}dark{{else}}light{{end}}">
<h1>{{.Title}}</h1>
<div id="book-grid">
{{- range .Items}}
<div class="book{{if .Fallback}} fallback{{end}}">
{{- if .Record.LinkURL}}
<a href="{{.Record.LinkURL}}" target="_blank" rel="noopener"><img src="{{.File}}" alt="{{.Caption}}" loading="lazy"></a>
{{- else}}
<img src="{{.File}}" alt="{{.Caption}}" loading="lazy">
{{- end}}
{{- if .Caption}}
<div class="caption">{{.Caption}}</div>
{{- end}}
</div>
{{- end}}
</div>
</body>
</html>
`))
