// Package fingerprint derives a stable pseudo-identity for a browser from its
// rendering and hardware quirks.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/probe"
)

// Sentinels recorded in place of a sub-sample that could not be taken.
const (
	NoCanvas      = "no-canvas"
	CanvasError   = "canvas-error"
	NoWebGL       = "no-webgl"
	NoDebugInfo   = "no-debug-info"
	WebGLError    = "webgl-error"
	AudioDisabled = "audio-disabled"
	NoAudio       = "no-audio"
	AudioError    = "audio-error"
	FontsDisabled = "fonts-disabled"
	FontsError    = "fonts-error"
	NoPlugins     = "no-plugins"
	ScreenError   = "screen-error"
)

// audioPrefix is the number of rendered frames that feed the audio digest.
const audioPrefix = 500

// Sample is the raw fingerprint. It never leaves the process; only Hash(Sample) does.
type Sample struct {
	Canvas              string  `json:"canvas"`
	WebGL               string  `json:"webgl"`
	Audio               string  `json:"audio"`
	Fonts               string  `json:"fonts"`
	Plugins             string  `json:"plugins"`
	Screen              string  `json:"screen"`
	Timezone            string  `json:"timezone"`
	Language            string  `json:"language"`
	Platform            string  `json:"platform"`
	HardwareConcurrency int     `json:"hardwareConcurrency"`
	DeviceMemory        float64 `json:"deviceMemory"`
	ColorDepth          int     `json:"colorDepth"`
	TouchSupport        bool    `json:"touchSupport"`
	Vendor              string  `json:"vendor"`
	Renderer            string  `json:"renderer"`
}

type Options struct {
	Fonts bool
	Audio bool
}

type Generator struct {
	env  probe.Environment
	opts Options
	log  *zap.Logger
}

func New(env probe.Environment, opts Options, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{env: env, opts: opts, log: logger.Named("fingerprint")}
}

// canvasRecipe is the fixed drawing whose raster output varies across GPUs, drivers and font stacks.
var canvasRecipe = probe.CanvasRecipe{
	Width:  200,
	Height: 50,
	Font:   "14px Arial",
	Ops: []probe.CanvasOp{
		{Fill: "#f60", X: 125, Y: 1, W: 62, H: 20},
		{Fill: "#069", Text: "FingerprintJS", X: 2, Y: 15},
		{Fill: "rgba(102, 204, 0, 0.7)", Text: "FingerprintJS", X: 4, Y: 17},
	},
}

var audioRecipe = probe.AudioRecipe{
	SampleRate: 44100,
	Frames:     5000,
	Frequency:  10000,
	Waveform:   "triangle",
}

// Generate samples every source. A failing source degrades to its sentinel.
func (g *Generator) Generate(ctx context.Context) Sample {
	webgl, renderer := g.webgl(ctx)
	screen := g.guard("screen", ScreenError, func() (string, error) {
		sc := g.env.Screen()
		dpr := sc.PixelRatio
		if dpr == 0 {
			dpr = 1
		}
		return fmt.Sprintf("%dx%dx%dx%dx%dx%s", sc.Width, sc.Height, sc.AvailWidth, sc.AvailHeight, sc.ColorDepth,
			strconv.FormatFloat(dpr, 'f', -1, 64)), nil
	})

	return Sample{
		Canvas:              g.canvas(ctx),
		WebGL:               webgl,
		Audio:               g.audio(ctx),
		Fonts:               g.fonts(),
		Plugins:             g.plugins(),
		Screen:              screen,
		Timezone:            g.env.Timezone(),
		Language:            g.env.Language(),
		Platform:            g.env.Platform(),
		HardwareConcurrency: g.env.HardwareConcurrency(),
		DeviceMemory:        g.env.DeviceMemory(),
		ColorDepth:          g.env.Screen().ColorDepth,
		TouchSupport:        g.env.TouchEvents() || g.env.MaxTouchPoints() > 0,
		Vendor:              g.env.Vendor(),
		Renderer:            renderer,
	}
}

// Hash returns the lowercase hex SHA-256 of the sample's JSON encoding.
func Hash(s Sample) string {
	if math.IsNaN(s.DeviceMemory) || math.IsInf(s.DeviceMemory, 0) {
		s.DeviceMemory = 0
	}
	b, err := json.Marshal(s)
	if err != nil {
		b = []byte(fmt.Sprintf("%+v", s))
	}
	return digest(b)
}

// Get generates a sample and returns its hash. The error is non-nil only when
// ctx ends before sampling completes.
func (g *Generator) Get(ctx context.Context) (string, error) {
	s := g.Generate(ctx)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Hash(s), nil
}

func (g *Generator) canvas(ctx context.Context) string {
	c := g.env.Canvas()
	if c == nil {
		return NoCanvas
	}
	return g.guard("canvas", CanvasError, func() (string, error) {
		data, err := c.Render(ctx, canvasRecipe)
		if err != nil {
			return "", err
		}
		return digest([]byte(data)), nil
	})
}

func (g *Generator) webgl(ctx context.Context) (value, renderer string) {
	gl := g.env.WebGL()
	if gl == nil {
		return NoWebGL, "unknown"
	}
	raw := g.guard("webgl", WebGLError, func() (string, error) {
		info, err := gl.Info(ctx)
		if errors.Is(err, probe.ErrUnsupported) {
			return NoWebGL, nil
		}
		if err != nil {
			return "", err
		}
		if !info.DebugInfo {
			return NoDebugInfo, nil
		}
		return info.Vendor + "~" + info.Renderer, nil
	})
	renderer = "unknown"
	if _, r, ok := strings.Cut(raw, "~"); ok && r != "" {
		renderer = r
	}
	switch raw {
	case NoWebGL, NoDebugInfo, WebGLError:
		return raw, renderer
	}
	return digest([]byte(raw)), renderer
}

func (g *Generator) audio(ctx context.Context) string {
	if !g.opts.Audio {
		return AudioDisabled
	}
	a := g.env.Audio()
	if a == nil {
		return NoAudio
	}
	return g.guard("audio", AudioError, func() (string, error) {
		samples, err := a.Render(ctx, audioRecipe)
		if err != nil {
			return "", err
		}
		if len(samples) > audioPrefix {
			samples = samples[:audioPrefix]
		}
		var b strings.Builder
		for i, v := range samples {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		return digest([]byte(b.String())), nil
	})
}

// fonts reports each candidate whose stacked measurement diverges from the
// bare base family for at least one base.
func (g *Generator) fonts() string {
	if !g.opts.Fonts {
		return FontsDisabled
	}
	meter := g.env.Fonts()
	if meter == nil {
		return NoCanvas
	}
	return g.guard("fonts", FontsError, func() (string, error) {
		baselines := make(map[string]probe.Metrics, len(probe.BaseFonts))
		for _, base := range probe.BaseFonts {
			m, err := meter.Measure(probe.FontTestString, base, probe.FontTestSize)
			if err != nil {
				return "", fmt.Errorf("baseline %s: %w", base, err)
			}
			baselines[base] = m
		}

		seen := make(map[string]struct{})
		for _, font := range probe.CandidateFonts {
			for _, base := range probe.BaseFonts {
				m, err := meter.Measure(probe.FontTestString, font+", "+base, probe.FontTestSize)
				if err != nil {
					continue
				}
				if m != baselines[base] {
					seen[font] = struct{}{}
					break
				}
			}
		}
		detected := make([]string, 0, len(seen))
		for f := range seen {
			detected = append(detected, f)
		}
		sort.Strings(detected)
		return strings.Join(detected, ","), nil
	})
}

func (g *Generator) plugins() string {
	return g.guard("plugins", NoPlugins, func() (string, error) {
		names := append([]string(nil), g.env.Plugins()...)
		if len(names) == 0 {
			return NoPlugins, nil
		}
		sort.Strings(names)
		if joined := strings.Join(names, ","); joined != "" {
			return joined, nil
		}
		return NoPlugins, nil
	})
}

// guard runs one probe, mapping errors and panics to sentinel.
func (g *Generator) guard(name, sentinel string, fn func() (string, error)) (out string) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("probe panicked", zap.String("probe", name), zap.Any("panic", r))
			out = sentinel
		}
	}()
	v, err := fn()
	if err != nil {
		g.log.Debug("probe failed", zap.String("probe", name), zap.Error(err))
		return sentinel
	}
	return v
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
