package views

import (
	"bytes"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"envnode/internal/sampling"
	"envnode/internal/settings"
)

func ptr(v float64) *float64 { return &v }

func TestLoadTemplates_success(t *testing.T) {
	if err := LoadTemplates(); err != nil {
		t.Fatalf("LoadTemplates() = %v; want nil", err)
	}
	if pageTmpl == nil {
		t.Fatal("LoadTemplates() left pageTmpl nil")
	}
}

func TestLoadTemplates_failure_sub(t *testing.T) {
	if err := loadTemplatesFromFS(fstest.MapFS{}, "templates"); err == nil {
		t.Fatal("loadTemplatesFromFS(emptyFS) = nil; want error")
	}
}

func TestLoadTemplates_failure_parse(t *testing.T) {
	badFS := fstest.MapFS{
		"templates/index.html":         {Data: []byte("{{ .")},
		"templates/partials/head.html": {Data: []byte(`{{ define "head" }}{{ end }}`)},
	}
	if err := loadTemplatesFromFS(badFS, "templates"); err == nil {
		t.Fatal("loadTemplatesFromFS(badFS) = nil; want error")
	}
}

func TestRender_notLoaded(t *testing.T) {
	prev := pageTmpl
	pageTmpl = nil
	t.Cleanup(func() { pageTmpl = prev })

	var buf bytes.Buffer
	if err := RenderIndex(&buf, &IndexData{}); err == nil {
		t.Error("RenderIndex with no templates = nil; want error")
	}
	if err := RenderSetup(&buf, &SetupData{}); err == nil {
		t.Error("RenderSetup with no templates = nil; want error")
	}
}

func TestRenderIndex_showsPublishedChannels(t *testing.T) {
	if err := LoadTemplates(); err != nil {
		t.Fatal(err)
	}
	res := &sampling.Result{
		At:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Samples:     3,
		Temperature: ptr(68.5),
		Humidity:    ptr(41.25),
		Pressure:    ptr(29.921),
	}

	var buf bytes.Buffer
	if err := RenderIndex(&buf, NewIndexData("porch", res, "connected", "192.168.1.50")); err != nil {
		t.Fatalf("RenderIndex: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"<h1>porch</h1>", "68.50", "41.25", "29.921", "2026-03-01 12:00:00", "from 3 samples", "192.168.1.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("index missing %q", want)
		}
	}
	if strings.Contains(out, "Altitude") {
		t.Error("index shows a suppressed altitude row")
	}
}

func TestRenderIndex_noResult(t *testing.T) {
	if err := LoadTemplates(); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := RenderIndex(&buf, NewIndexData("envnode", nil, "access-point", "192.168.4.1")); err != nil {
		t.Fatalf("RenderIndex: %v", err)
	}
	if !strings.Contains(buf.String(), "No readings published yet.") {
		t.Errorf("index without result = %q", buf.String())
	}
}

func TestRenderSetup_marksStoredAndHidesSecrets(t *testing.T) {
	if err := LoadTemplates(); err != nil {
		t.Fatal(err)
	}
	rec := settings.FromFields(settings.Fields{Hostname: "porch", SSIDPassword: "hunter22"})

	var buf bytes.Buffer
	err := RenderSetup(&buf, &SetupData{Name: rec.Name(), Entries: rec.Entries(), Version: "1.0.0"})
	if err != nil {
		t.Fatalf("RenderSetup: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `action="/save"`) {
		t.Error("setup form does not post to /save")
	}
	if !strings.Contains(out, `id="ssid_pwd" name="ssid_pwd" type="password"`) {
		t.Error("ssid password not rendered as a password input")
	}
	if !strings.Contains(out, `value="porch"`) {
		t.Error("stored hostname missing from form")
	}
	if !strings.Contains(out, `id="samples_per_publish" name="samples_per_publish" type="text" value="" placeholder="3"`) {
		t.Error("unset samples per publish should be empty with the default as placeholder")
	}
	if strings.Count(out, `class="stored"`) != 2 {
		t.Errorf("stored markers = %d; want 2", strings.Count(out, `class="stored"`))
	}
}

func TestPages(t *testing.T) {
	if err := LoadTemplates(); err != nil {
		t.Fatal(err)
	}
	var p Pages
	if p.Index() != nil || p.Setup() != nil {
		t.Fatal("zero Pages should hold nothing")
	}

	if err := p.RenderIndex(NewIndexData("a", nil, "boot", "")); err != nil {
		t.Fatal(err)
	}
	first := p.Index()
	if err := p.RenderIndex(NewIndexData("b", nil, "boot", "")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(first), "<h1>a</h1>") {
		t.Error("earlier snapshot was mutated by a later render")
	}
	if !strings.Contains(string(p.Index()), "<h1>b</h1>") {
		t.Error("latest render not stored")
	}

	if err := p.RenderSetup(&SetupData{Name: "a", Entries: settings.Defaults().Entries()}); err != nil {
		t.Fatal(err)
	}
	if len(p.Setup()) == 0 {
		t.Error("setup page not stored")
	}
}
