package probe

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDecodeSnapshot(t *testing.T) {
	t.Run("decodes reported fields", func(t *testing.T) {
		body := `{
			"user_agent": "Mozilla/5.0",
			"platform": "MacIntel",
			"languages": ["en-US"],
			"plugins": ["PDF Viewer"],
			"webdriver": true,
			"screen": {"width": 1440, "height": 900, "color_depth": 30},
			"globals": ["callPhantom"],
			"document_properties": ["$cdc_asdjflasutopfhvcZLmcfl_"],
			"error_stack": "Error\n at x",
			"webgl": {"debug_info": true, "vendor": "Apple", "renderer": "M1"}
		}`
		s, err := DecodeSnapshot(strings.NewReader(body))
		if err != nil {
			t.Fatalf("DecodeSnapshot() error = %v", err)
		}
		if !s.Webdriver() || s.Platform() != "MacIntel" {
			t.Errorf("unexpected navigator fields: %+v", s)
		}
		if s.Screen().Width != 1440 || s.Screen().ColorDepth != 30 {
			t.Errorf("Screen() = %+v", s.Screen())
		}
		if !s.HasGlobal("callPhantom") || s.HasGlobal("_phantom") {
			t.Error("HasGlobal() mismatch")
		}
		if !s.HasDocumentProperty("$cdc_asdjflasutopfhvcZLmcfl_") {
			t.Error("HasDocumentProperty() should report reported property")
		}
		stack, err := s.ErrorStack()
		if err != nil || !strings.HasPrefix(stack, "Error") {
			t.Errorf("ErrorStack() = %q, %v", stack, err)
		}
		info, err := s.WebGL().Info(context.Background())
		if err != nil || info.Renderer != "M1" {
			t.Errorf("WebGL().Info() = %+v, %v", info, err)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		if _, err := DecodeSnapshot(strings.NewReader(`{"surprise": 1}`)); err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		if _, err := DecodeSnapshot(strings.NewReader(`{`)); err == nil {
			t.Error("expected error for malformed body")
		}
	})
}

func TestSnapshotCapabilities(t *testing.T) {
	t.Run("missing error stack is an error", func(t *testing.T) {
		s := &Snapshot{}
		if _, err := s.ErrorStack(); err == nil {
			t.Error("expected error when stack not reported")
		}
	})

	t.Run("missing webgl reports unsupported", func(t *testing.T) {
		s := &Snapshot{}
		if _, err := s.WebGL().Info(context.Background()); !errors.Is(err, ErrUnsupported) {
			t.Errorf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("rendering disabled hides canvas and webgl", func(t *testing.T) {
		s := &Snapshot{RenderingDisabled: true, CanvasData: "data:"}
		if s.Canvas() != nil || s.WebGL() != nil {
			t.Error("expected nil canvas and webgl")
		}
	})

	t.Run("audio and fonts are nil when not reported", func(t *testing.T) {
		s := &Snapshot{}
		if s.Audio() != nil || s.Fonts() != nil {
			t.Error("expected nil audio and fonts")
		}
	})

	t.Run("audio render truncates to requested frames", func(t *testing.T) {
		s := &Snapshot{AudioSamples: []float32{1, 2, 3, 4}}
		got, err := s.Audio().Render(context.Background(), AudioRecipe{Frames: 2})
		if err != nil || len(got) != 2 {
			t.Errorf("Render() = %v, %v", got, err)
		}
	})
}

func TestFontMetricsFor(t *testing.T) {
	m := FontMetricsFor("Arial")
	meter := snapshotFonts{metrics: m}
	base, err := meter.Measure(FontTestString, "monospace", FontTestSize)
	if err != nil {
		t.Fatal(err)
	}
	arial, _ := meter.Measure(FontTestString, "Arial, monospace", FontTestSize)
	if arial == base {
		t.Error("installed font should change the measured extent")
	}
	impact, _ := meter.Measure(FontTestString, "Impact, monospace", FontTestSize)
	if impact != base {
		t.Error("missing font should measure as the base family")
	}
}

func TestPresets(t *testing.T) {
	if DesktopChrome().Webdriver() {
		t.Error("desktop preset must not set webdriver")
	}
	h := HeadlessChrome()
	if !h.Webdriver() || !strings.Contains(h.UserAgent(), "HeadlessChrome") {
		t.Error("headless preset missing automation artifacts")
	}
}
