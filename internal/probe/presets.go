package probe

// BaseFonts are the generic families every candidate font is stacked in front of.
var BaseFonts = []string{"monospace", "sans-serif", "serif"}

// FontTestString and FontTestSize are the fixed measurement inputs for font detection.
const (
	FontTestString = "mmmmmmmmmmlli"
	FontTestSize   = 72
)

// DesktopChrome returns a snapshot of an ordinary desktop Chrome on Windows
// with the given fonts installed.
func DesktopChrome(installedFonts ...string) *Snapshot {
	stack := "Error: probe\n    at <anonymous>:1:7\n    at main.js:12:3"
	s := &Snapshot{
		UA:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		PlatformName: "Win32",
		VendorName:   "Google Inc.",
		Lang:         "en-US",
		Langs:        []string{"en-US", "en"},
		PluginNames:  []string{"PDF Viewer", "Chrome PDF Viewer", "Chromium PDF Viewer"},
		MimeTypes:    2,
		Cores:        8,
		Memory:       8,
		Display:      Screen{Width: 1920, Height: 1080, AvailWidth: 1920, AvailHeight: 1040, ColorDepth: 24, PixelRatio: 1},
		TZ:           "Europe/Berlin",
		ChromeObj:    Chrome{Present: true, HasRuntime: true},
		Notification: true,
		Stack:        &stack,
		Net:          Connection{Present: true, RTT: 50, Downlink: 10},
		CanvasData:   "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAMgAAAAyCAYAAAAZUZThAAAA",
		GL:           &GLSnapshot{DebugInfo: true, Vendor: "Google Inc. (NVIDIA)", Renderer: "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0)"},
		AudioSamples: []float32{0, 0.0001, 0.0003, 0.0002, -0.0001},
	}
	s.FontMetrics = FontMetricsFor(installedFonts...)
	return s
}

// HeadlessChrome returns a snapshot carrying the usual headless automation artifacts.
func HeadlessChrome() *Snapshot {
	return &Snapshot{
		UA:            "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/126.0.0.0 Safari/537.36",
		PlatformName:  "Linux x86_64",
		VendorName:    "Google Inc.",
		Lang:          "en-US",
		WebdriverFlag: true,
		Display:       Screen{Width: 800, Height: 600, AvailWidth: 800, AvailHeight: 600, ColorDepth: 24, PixelRatio: 1},
		TZ:            "UTC",
		ChromeObj:     Chrome{Present: true},
		Globals:       []string{"domAutomation"},
		Net:           Connection{Present: true},
		GL:            &GLSnapshot{DebugInfo: true, Vendor: "Google Inc. (Google)", Renderer: "ANGLE (Google, Vulkan 1.3.0 (SwiftShader Device))"},
	}
}

// FontMetricsFor synthesizes measurements where every installed font changes
// the extent of each stack it heads and unknown fonts fall back to the base.
func FontMetricsFor(installed ...string) map[string]Metrics {
	m := make(map[string]Metrics)
	for i, base := range BaseFonts {
		baseline := Metrics{Width: 700 + float64(i)*13, Height: 80 + float64(i)}
		m[FontKey(base, FontTestSize)] = baseline
		for _, font := range CandidateFonts {
			m[FontKey(font+", "+base, FontTestSize)] = baseline
		}
		for j, font := range installed {
			m[FontKey(font+", "+base, FontTestSize)] = Metrics{Width: baseline.Width + float64(j+1), Height: baseline.Height}
		}
	}
	return m
}

// CandidateFonts are the families probed for installation.
var CandidateFonts = []string{
	"Arial", "Verdana", "Times New Roman", "Courier New",
	"Georgia", "Palatino", "Garamond", "Bookman",
	"Comic Sans MS", "Trebuchet MS", "Impact",
}
