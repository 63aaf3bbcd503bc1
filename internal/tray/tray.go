// Package tray provides the system tray menu for mudra.
package tray

import (
	"context"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

// WatchInterval is how often Watch polls the display for changes.
const WatchInterval = 100 * time.Millisecond

// Display is the read side of the presenter.
type Display interface {
	ResultVersion() uint64
	Text() string
}

// Tray is the system tray menu: current display text, pause toggle,
// viewer shortcut and quit.
type Tray struct {
	onPause      func(paused bool)
	onOpenViewer func()
	onQuit       func()
	paused       bool
	text         string
	mu           sync.RWMutex

	// Menu items, set once the tray is ready.
	menuText   *systray.MenuItem
	menuToggle *systray.MenuItem
}

// New creates a Tray in the running (not paused) state.
func New() *Tray {
	return &Tray{}
}

// OnPause sets the callback invoked when the pause toggle changes.
func (t *Tray) OnPause(fn func(paused bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPause = fn
}

// OnOpenViewer sets the callback invoked by the "Open Viewer" item.
func (t *Tray) OnOpenViewer(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenViewer = fn
}

// OnQuit sets the callback invoked by the "Quit" item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray. It blocks until Quit is called and must run
// on the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra sign recognition")

	t.mu.Lock()
	t.menuText = systray.AddMenuItem(displayTitle(t.text), "Current prediction")
	t.menuText.Disable()
	systray.AddSeparator()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.paused), "Pause or resume recognition")
	t.mu.Unlock()

	systray.AddSeparator()
	menuViewer := systray.AddMenuItem("Open Viewer...", "Open the viewer in a browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuViewer.ClickedCh:
				t.handleOpenViewer()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func toggleTitle(paused bool) string {
	if paused {
		return "○ Paused"
	}
	return "● Running"
}

func displayTitle(text string) string {
	if text == "" {
		return "Starting..."
	}
	return text
}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.paused = !t.paused
	paused := t.paused
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(paused))
	}
	callback := t.onPause
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(paused)
	}
}

func (t *Tray) handleOpenViewer() {
	t.mu.RLock()
	callback := t.onOpenViewer
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetText updates the display line of the menu.
func (t *Tray) SetText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.text = text
	if t.menuText != nil {
		t.menuText.SetTitle(displayTitle(text))
	}
}

// Text returns the last text set on the menu.
func (t *Tray) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.text
}

// IsPaused returns the current toggle state.
func (t *Tray) IsPaused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

// Watch mirrors d's text into the menu until ctx is done.
func (t *Tray) Watch(ctx context.Context, d Display) {
	ticker := time.NewTicker(WatchInterval)
	defer ticker.Stop()

	seen := d.ResultVersion()
	t.SetText(d.Text())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if v := d.ResultVersion(); v != seen {
				seen = v
				t.SetText(d.Text())
			}
		}
	}
}
