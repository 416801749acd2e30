// Package views renders the node's HTML pages.
package views

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"sync/atomic"
	"time"

	"envnode/internal/sampling"
	"envnode/internal/settings"
)

var pageTmpl *template.Template

func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	pageTmpl, err = template.ParseFS(sub, "*.html", "partials/*.html")
	return err
}

// LoadTemplates parses the embedded pages. Call once during startup.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

type Row struct {
	Label string
	Value string
	Unit  string
}

type IndexData struct {
	Name      string
	Rows      []Row
	Samples   int
	UpdatedAt string
	State     string
	IP        string
}

type SetupData struct {
	Name    string
	Entries []settings.Entry
	State   string
	IP      string
	Version string
}

// NewIndexData lays out res for the index page. A nil res means nothing has
// been published yet.
func NewIndexData(name string, res *sampling.Result, state, ip string) *IndexData {
	d := &IndexData{Name: name, State: state, IP: ip}
	if res == nil {
		return d
	}
	add := func(label string, v *float64, unit, format string) {
		if v == nil {
			return
		}
		d.Rows = append(d.Rows, Row{Label: label, Value: fmt.Sprintf(format, *v), Unit: unit})
	}
	add("Temperature", res.Temperature, "°F", "%.2f")
	add("Humidity", res.Humidity, "%", "%.2f")
	add("Altitude", res.Altitude, "m", "%.1f")
	add("Pressure", res.Pressure, "inHg", "%.3f")
	add("Signal", res.Signal, "dB", "%.0f")
	add("Sea level pressure", res.SeaLevel, "hPa", "%.2f")
	d.Samples = res.Samples
	d.UpdatedAt = res.At.Format(time.DateTime)
	return d
}

func RenderIndex(w io.Writer, data *IndexData) error {
	if pageTmpl == nil {
		return errors.New("index template not loaded: call views.LoadTemplates during startup")
	}
	return pageTmpl.ExecuteTemplate(w, "index.html", data)
}

func RenderSetup(w io.Writer, data *SetupData) error {
	if pageTmpl == nil {
		return errors.New("setup template not loaded: call views.LoadTemplates during startup")
	}
	return pageTmpl.ExecuteTemplate(w, "setup.html", data)
}

// Pages holds the last rendered pages. The main loop is the only writer;
// HTTP handlers read.
type Pages struct {
	index atomic.Pointer[[]byte]
	setup atomic.Pointer[[]byte]
}

func (p *Pages) Index() []byte { return load(&p.index) }

func (p *Pages) Setup() []byte { return load(&p.setup) }

func (p *Pages) RenderIndex(data *IndexData) error {
	return store(&p.index, func(w io.Writer) error { return RenderIndex(w, data) })
}

func (p *Pages) RenderSetup(data *SetupData) error {
	return store(&p.setup, func(w io.Writer) error { return RenderSetup(w, data) })
}

func load(ptr *atomic.Pointer[[]byte]) []byte {
	if b := ptr.Load(); b != nil {
		return *b
	}
	return nil
}

func store(ptr *atomic.Pointer[[]byte], render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	b := buf.Bytes()
	ptr.Store(&b)
	return nil
}
