// Package probe defines the read-only view of a browser environment that the
// fingerprint generator and the bot detection scorer consume.
package probe

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by capability probes the host cannot provide.
var ErrUnsupported = errors.New("probe: capability unsupported")

// Screen is the display geometry reported by the host.
type Screen struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"avail_width"`
	AvailHeight int     `json:"avail_height"`
	ColorDepth  int     `json:"color_depth"`
	PixelRatio  float64 `json:"pixel_ratio"`
}

// Connection mirrors the network information API. Present is false when the API is absent.
type Connection struct {
	Present  bool    `json:"present"`
	RTT      float64 `json:"rtt"`
	Downlink float64 `json:"downlink"`
}

// Chrome describes the vendor-specific chrome global.
type Chrome struct {
	Present    bool `json:"present"`
	HasRuntime bool `json:"has_runtime"`
}

// Metrics is a measured text extent in CSS pixels.
type Metrics struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CanvasRecipe is a fixed 2D drawing. Hosts render it and serialize the pixels.
type CanvasRecipe struct {
	Width, Height int
	Font          string
	Ops           []CanvasOp
}

// CanvasOp is one fill operation. A non-empty Text means fillText, otherwise fillRect.
type CanvasOp struct {
	Fill string
	Text string
	X, Y float64
	W, H float64
}

// AudioRecipe describes a near-silent oscillator render.
type AudioRecipe struct {
	SampleRate int
	Frames     int
	Frequency  float64
	Waveform   string
}

// GLInfo is the result of querying the hardware graphics context.
type GLInfo struct {
	DebugInfo bool
	Vendor    string
	Renderer  string
}

// Canvas renders a recipe and returns the serialized pixel buffer.
type Canvas interface {
	Render(ctx context.Context, r CanvasRecipe) (string, error)
}

// WebGL queries the graphics context. ErrUnsupported means no context exists.
type WebGL interface {
	Info(ctx context.Context) (GLInfo, error)
}

// Audio renders an oscillator graph and returns the sample buffer.
type Audio interface {
	Render(ctx context.Context, r AudioRecipe) ([]float32, error)
}

// FontMeter measures text drawn in a CSS font-family stack at the given pixel size.
type FontMeter interface {
	Measure(text, family string, sizePx int) (Metrics, error)
}

// Environment is the injected view of navigator, screen, window and document
// state. Implementations must be safe to call repeatedly; capability getters
// return nil when the host has no such API.
type Environment interface {
	UserAgent() string
	Platform() string
	Vendor() string
	Language() string
	Languages() []string
	Plugins() []string
	MimeTypeCount() int
	HardwareConcurrency() int
	DeviceMemory() float64
	MaxTouchPoints() int
	TouchEvents() bool
	Webdriver() bool
	Screen() Screen
	Timezone() string

	HasGlobal(name string) bool
	HasDocumentProperty(name string) bool
	HasDocumentAttribute(name string) bool
	Chrome() Chrome
	HasNotificationAPI() bool
	ErrorStack() (string, error)
	Connection() Connection

	Canvas() Canvas
	WebGL() WebGL
	Audio() Audio
	Fonts() FontMeter
}
