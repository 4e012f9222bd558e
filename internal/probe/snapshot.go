package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Snapshot is a client-reported environment. It is what browsers post to the
// protection endpoint and what tests use as a fake host.
type Snapshot struct {
	UA                string             `json:"user_agent"`
	PlatformName      string             `json:"platform"`
	VendorName        string             `json:"vendor"`
	Lang              string             `json:"language"`
	Langs             []string           `json:"languages"`
	PluginNames       []string           `json:"plugins"`
	MimeTypes         int                `json:"mime_types"`
	Cores             int                `json:"hardware_concurrency"`
	Memory            float64            `json:"device_memory"`
	TouchPoints       int                `json:"max_touch_points"`
	OnTouchStart      bool               `json:"touch_events"`
	WebdriverFlag     bool               `json:"webdriver"`
	Display           Screen             `json:"screen"`
	TZ                string             `json:"timezone"`
	Globals           []string           `json:"globals,omitempty"`
	DocumentProps     []string           `json:"document_properties,omitempty"`
	DocumentAttrs     []string           `json:"document_attributes,omitempty"`
	ChromeObj         Chrome             `json:"chrome"`
	Notification      bool               `json:"notification_api"`
	Stack             *string            `json:"error_stack"`
	Net               Connection         `json:"connection"`
	CanvasData        string             `json:"canvas,omitempty"`
	GL                *GLSnapshot        `json:"webgl,omitempty"`
	AudioSamples      []float32          `json:"audio,omitempty"`
	FontMetrics       map[string]Metrics `json:"font_metrics,omitempty"`
	RenderingDisabled bool               `json:"rendering_disabled,omitempty"`
}

// GLSnapshot is the reported graphics context. A nil GLSnapshot means no context.
type GLSnapshot struct {
	DebugInfo bool   `json:"debug_info"`
	Vendor    string `json:"vendor"`
	Renderer  string `json:"renderer"`
}

// DecodeSnapshot reads a JSON snapshot, rejecting unknown fields.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

func (s *Snapshot) UserAgent() string        { return s.UA }
func (s *Snapshot) Platform() string         { return s.PlatformName }
func (s *Snapshot) Vendor() string           { return s.VendorName }
func (s *Snapshot) Language() string         { return s.Lang }
func (s *Snapshot) Languages() []string      { return s.Langs }
func (s *Snapshot) Plugins() []string        { return s.PluginNames }
func (s *Snapshot) MimeTypeCount() int       { return s.MimeTypes }
func (s *Snapshot) HardwareConcurrency() int { return s.Cores }
func (s *Snapshot) DeviceMemory() float64    { return s.Memory }
func (s *Snapshot) MaxTouchPoints() int      { return s.TouchPoints }
func (s *Snapshot) TouchEvents() bool        { return s.OnTouchStart }
func (s *Snapshot) Webdriver() bool          { return s.WebdriverFlag }
func (s *Snapshot) Screen() Screen           { return s.Display }
func (s *Snapshot) Timezone() string         { return s.TZ }
func (s *Snapshot) Chrome() Chrome           { return s.ChromeObj }
func (s *Snapshot) HasNotificationAPI() bool { return s.Notification }
func (s *Snapshot) Connection() Connection   { return s.Net }

func (s *Snapshot) HasGlobal(name string) bool            { return contains(s.Globals, name) }
func (s *Snapshot) HasDocumentProperty(name string) bool  { return contains(s.DocumentProps, name) }
func (s *Snapshot) HasDocumentAttribute(name string) bool { return contains(s.DocumentAttrs, name) }

func (s *Snapshot) ErrorStack() (string, error) {
	if s.Stack == nil {
		return "", errors.New("error stack not reported")
	}
	return *s.Stack, nil
}

func (s *Snapshot) Canvas() Canvas {
	if s.RenderingDisabled {
		return nil
	}
	return snapshotCanvas{data: s.CanvasData}
}

func (s *Snapshot) WebGL() WebGL {
	if s.RenderingDisabled {
		return nil
	}
	return snapshotGL{gl: s.GL}
}

func (s *Snapshot) Audio() Audio {
	if s.AudioSamples == nil {
		return nil
	}
	return snapshotAudio{samples: s.AudioSamples}
}

func (s *Snapshot) Fonts() FontMeter {
	if s.FontMetrics == nil {
		return nil
	}
	return snapshotFonts{metrics: s.FontMetrics}
}

// FontKey is the FontMetrics lookup key for a family stack at a pixel size.
func FontKey(family string, sizePx int) string {
	return fmt.Sprintf("%dpx %s", sizePx, strings.ToLower(family))
}

type snapshotCanvas struct{ data string }

func (c snapshotCanvas) Render(_ context.Context, _ CanvasRecipe) (string, error) {
	if c.data == "" {
		return "", errors.New("canvas not reported")
	}
	return c.data, nil
}

type snapshotGL struct{ gl *GLSnapshot }

func (g snapshotGL) Info(_ context.Context) (GLInfo, error) {
	if g.gl == nil {
		return GLInfo{}, ErrUnsupported
	}
	return GLInfo{DebugInfo: g.gl.DebugInfo, Vendor: g.gl.Vendor, Renderer: g.gl.Renderer}, nil
}

type snapshotAudio struct{ samples []float32 }

func (a snapshotAudio) Render(_ context.Context, r AudioRecipe) ([]float32, error) {
	if len(a.samples) == 0 {
		return nil, errors.New("audio not reported")
	}
	if r.Frames > 0 && r.Frames < len(a.samples) {
		return a.samples[:r.Frames], nil
	}
	return a.samples, nil
}

type snapshotFonts struct{ metrics map[string]Metrics }

func (f snapshotFonts) Measure(text, family string, sizePx int) (Metrics, error) {
	m, ok := f.metrics[FontKey(family, sizePx)]
	if !ok {
		return Metrics{}, fmt.Errorf("no metrics for %q", family)
	}
	return m, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
