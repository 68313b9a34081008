package promote

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/crawlgrep/internal/crawler"
)

const (
	// DefaultMinBody is the body size below which a script-heavy page is
	// assumed to be a client-rendered shell.
	DefaultMinBody = 2048
	scriptSharePct = 25
)

// Markers whose presence means the visible text is filled in by JavaScript.
var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__next_data__"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("window.__apollo_state__"),
}

// Detector decides from a probe page whether a headless render is needed.
type Detector struct {
	MinBody int
}

// NewDetector returns a Detector; minBody <= 0 selects DefaultMinBody.
func NewDetector(minBody int) *Detector {
	if minBody <= 0 {
		minBody = DefaultMinBody
	}
	return &Detector{MinBody: minBody}
}

// NeedsRender reports whether page looks like an application shell. Only
// 200 responses are ever promoted.
func (d *Detector) NeedsRender(page crawler.Page) bool {
	if page.StatusCode != http.StatusOK {
		return false
	}
	if len(page.Body) == 0 {
		return true
	}
	lower := bytes.ToLower(page.Body)
	if len(lower) < d.MinBody && scriptShare(lower) >= scriptSharePct {
		return true
	}
	for _, m := range appShellMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of lower covered by <script> elements,
// tags included. An unterminated element runs to the end of the input.
func scriptShare(lower []byte) int {
	open, end := []byte("<script"), []byte("</script>")
	covered := 0
	rest := lower
	for {
		start := bytes.Index(rest, open)
		if start < 0 {
			break
		}
		rest = rest[start:]
		stop := bytes.Index(rest, end)
		if stop < 0 {
			covered += len(rest)
			break
		}
		stop += len(end)
		covered += stop
		rest = rest[stop:]
	}
	return covered * 100 / len(lower)
}
