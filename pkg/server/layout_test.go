package server

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no local browser found")
	}

	_, e := newTestServer(t)
	ts := httptest.NewServer(e)
	defer ts.Close()

	// Launch browser
	l := launcher.New().Bin(bin).Headless(true)
	url := l.MustLaunch()
	browser := rod.New().ControlURL(url).MustConnect()
	defer browser.MustClose()

	// Add timestamp to bust cache
	page := browser.MustPage(fmt.Sprintf("%s/?t=%d", ts.URL, time.Now().UnixNano()))
	page.MustWaitLoad()

	// Wait for the track list to load
	page.MustElement("#tracks label")

	viewportHeight := page.MustEval(`() => window.innerHeight`).Int()
	t.Logf("Viewport height: %d", viewportHeight)

	layout := page.MustEval(`() => {
		const rect = (sel) => {
			const r = document.querySelector(sel).getBoundingClientRect();
			return { top: r.top, height: r.height, bottom: r.bottom };
		};
		const sidebar = document.querySelector('.sidebar');
		return {
			header: rect('header'),
			sidebar: rect('.sidebar'),
			main: rect('.main'),
			sidebarOverflowY: window.getComputedStyle(sidebar).overflowY,
			htmlOverflow: window.getComputedStyle(document.documentElement).overflow,
			bodyOverflow: window.getComputedStyle(document.body).overflow,
			tracks: document.querySelectorAll('#tracks input').length,
		};
	}`).Map()
	t.Logf("Layout: %+v", layout)

	// Header is at the top
	header := layout["header"].Map()
	headerHeight := header["height"].Num()
	assert.InDelta(t, 0, header["top"].Num(), 2, "Header should be at top of page")
	assert.Greater(t, headerHeight, float64(30), "Header should have height")

	// Sidebar fills the height below the header
	sidebar := layout["sidebar"].Map()
	assert.InDelta(t, headerHeight, sidebar["top"].Num(), 2, "Sidebar should start below header")
	assert.InDelta(t, float64(viewportHeight)-headerHeight, sidebar["height"].Num(), 10, "Sidebar should fill remaining height")

	main := layout["main"].Map()
	assert.InDelta(t, headerHeight, main["top"].Num(), 2, "Main should start below header")

	overflowY := layout["sidebarOverflowY"].Str()
	assert.True(t, overflowY == "auto" || overflowY == "scroll", "Sidebar should scroll, got: %s", overflowY)

	// Page itself should not scroll
	assert.True(t, layout["htmlOverflow"].Str() == "hidden" || layout["bodyOverflow"].Str() == "hidden")

	require.Equal(t, 2, layout["tracks"].Int(), "Both tracks should be listed")
}
