package fingerprint

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/shortontech/originguard/internal/probe"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{64}$`)

// fakeEnv overrides capability probes of a snapshot.
type fakeEnv struct {
	*probe.Snapshot
	canvas probe.Canvas
	gl     probe.WebGL
	audio  probe.Audio
}

func (f fakeEnv) Canvas() probe.Canvas {
	if f.canvas != nil {
		return f.canvas
	}
	return f.Snapshot.Canvas()
}

func (f fakeEnv) WebGL() probe.WebGL {
	if f.gl != nil {
		return f.gl
	}
	return f.Snapshot.WebGL()
}

func (f fakeEnv) Audio() probe.Audio {
	if f.audio != nil {
		return f.audio
	}
	return f.Snapshot.Audio()
}

type panicCanvas struct{}

func (panicCanvas) Render(context.Context, probe.CanvasRecipe) (string, error) {
	panic("context lost")
}

type failingGL struct{ err error }

func (f failingGL) Info(context.Context) (probe.GLInfo, error) { return probe.GLInfo{}, f.err }

type deniedAudio struct{}

func (deniedAudio) Render(context.Context, probe.AudioRecipe) ([]float32, error) {
	return nil, errors.New("NotAllowedError")
}

func newGen(t *testing.T, env probe.Environment) *Generator {
	t.Helper()
	return New(env, Options{Fonts: true, Audio: true}, zaptest.NewLogger(t))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("samples desktop environment", func(t *testing.T) {
		s := newGen(t, probe.DesktopChrome("Verdana", "Arial")).Generate(ctx)

		if s.Fonts != "Arial,Verdana" {
			t.Errorf("Fonts = %q, want sorted detected list", s.Fonts)
		}
		if s.Plugins != "Chrome PDF Viewer,Chromium PDF Viewer,PDF Viewer" {
			t.Errorf("Plugins = %q", s.Plugins)
		}
		if s.Screen != "1920x1080x1920x1040x24x1" {
			t.Errorf("Screen = %q", s.Screen)
		}
		if !hexID.MatchString(s.Canvas) {
			t.Errorf("Canvas should be a digest, got %q", s.Canvas)
		}
		if !hexID.MatchString(s.WebGL) {
			t.Errorf("WebGL should be a digest, got %q", s.WebGL)
		}
		if s.Renderer != "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0)" {
			t.Errorf("Renderer = %q", s.Renderer)
		}
		if !hexID.MatchString(s.Audio) {
			t.Errorf("Audio should be a digest, got %q", s.Audio)
		}
		if s.TouchSupport {
			t.Error("desktop should not report touch support")
		}
	})

	t.Run("no fonts installed yields empty list", func(t *testing.T) {
		s := newGen(t, probe.DesktopChrome()).Generate(ctx)
		if s.Fonts != "" {
			t.Errorf("Fonts = %q, want empty", s.Fonts)
		}
	})

	t.Run("each probe degrades independently", func(t *testing.T) {
		env := fakeEnv{
			Snapshot: probe.DesktopChrome("Arial"),
			canvas:   panicCanvas{},
			gl:       failingGL{err: errors.New("driver crash")},
			audio:    deniedAudio{},
		}
		s := newGen(t, env).Generate(ctx)

		if s.Canvas != CanvasError {
			t.Errorf("Canvas = %q, want %q", s.Canvas, CanvasError)
		}
		if s.WebGL != WebGLError {
			t.Errorf("WebGL = %q, want %q", s.WebGL, WebGLError)
		}
		if s.Renderer != "unknown" {
			t.Errorf("Renderer = %q, want unknown", s.Renderer)
		}
		if s.Audio != AudioError {
			t.Errorf("Audio = %q, want %q", s.Audio, AudioError)
		}
		if s.Fonts != "Arial" {
			t.Errorf("Fonts = %q, other probes should be unaffected", s.Fonts)
		}
	})

	t.Run("missing capabilities use sentinels", func(t *testing.T) {
		snap := probe.HeadlessChrome()
		snap.GL = nil
		s := newGen(t, snap).Generate(ctx)

		if s.Canvas != CanvasError {
			t.Errorf("Canvas = %q, want %q for unreported canvas", s.Canvas, CanvasError)
		}
		if s.WebGL != NoWebGL {
			t.Errorf("WebGL = %q, want %q", s.WebGL, NoWebGL)
		}
		if s.Audio != NoAudio {
			t.Errorf("Audio = %q, want %q", s.Audio, NoAudio)
		}
		if s.Fonts != NoCanvas {
			t.Errorf("Fonts = %q, want %q", s.Fonts, NoCanvas)
		}
		if s.Plugins != NoPlugins {
			t.Errorf("Plugins = %q, want %q", s.Plugins, NoPlugins)
		}
	})

	t.Run("rendering disabled", func(t *testing.T) {
		snap := probe.DesktopChrome()
		snap.RenderingDisabled = true
		s := newGen(t, snap).Generate(ctx)
		if s.Canvas != NoCanvas || s.WebGL != NoWebGL {
			t.Errorf("Canvas/WebGL = %q/%q", s.Canvas, s.WebGL)
		}
	})

	t.Run("webgl without debug extension", func(t *testing.T) {
		snap := probe.DesktopChrome()
		snap.GL = &probe.GLSnapshot{DebugInfo: false}
		s := newGen(t, snap).Generate(ctx)
		if s.WebGL != NoDebugInfo {
			t.Errorf("WebGL = %q, want %q", s.WebGL, NoDebugInfo)
		}
	})

	t.Run("disabled options", func(t *testing.T) {
		g := New(probe.DesktopChrome("Arial"), Options{}, nil)
		s := g.Generate(ctx)
		if s.Audio != AudioDisabled || s.Fonts != FontsDisabled {
			t.Errorf("Audio/Fonts = %q/%q", s.Audio, s.Fonts)
		}
	})

	t.Run("zero pixel ratio defaults to one", func(t *testing.T) {
		snap := probe.DesktopChrome()
		snap.Display.PixelRatio = 0
		if s := newGen(t, snap).Generate(ctx); s.Screen != "1920x1080x1920x1040x24x1" {
			t.Errorf("Screen = %q", s.Screen)
		}
		snap.Display.PixelRatio = 1.25
		if s := newGen(t, snap).Generate(ctx); s.Screen != "1920x1080x1920x1040x24x1.25" {
			t.Errorf("Screen = %q", s.Screen)
		}
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("deterministic lowercase hex", func(t *testing.T) {
		g := newGen(t, probe.DesktopChrome("Arial"))
		a, err := g.Get(ctx)
		if err != nil {
			t.Fatal(err)
		}
		b, _ := g.Get(ctx)
		if a != b {
			t.Errorf("Get() not deterministic: %s vs %s", a, b)
		}
		if !hexID.MatchString(a) {
			t.Errorf("Get() = %q, want 64 lowercase hex chars", a)
		}
	})

	t.Run("environment change changes id", func(t *testing.T) {
		a, _ := newGen(t, probe.DesktopChrome("Arial")).Get(ctx)
		b, _ := newGen(t, probe.DesktopChrome("Arial", "Impact")).Get(ctx)
		if a == b {
			t.Error("different font sets should produce different ids")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := newGen(t, probe.DesktopChrome()).Get(cctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Get() error = %v, want context.Canceled", err)
		}
	})
}

func TestHash(t *testing.T) {
	s := Sample{Canvas: "c", Plugins: NoPlugins}
	if Hash(s) != Hash(s) {
		t.Error("Hash() not deterministic")
	}
	s2 := s
	s2.Timezone = "UTC"
	if Hash(s) == Hash(s2) {
		t.Error("Hash() ignores fields")
	}
}
