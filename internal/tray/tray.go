// Package tray provides the optional system tray indicator: it shows which
// screen currently has control and offers jump actions without touching the
// keyboard.
package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/getlantern/systray"

	"tx2tx/internal/types"
)

// MenuItem is one tray menu entry.
type MenuItem struct {
	Title    string
	Callback func()
	item     *systray.MenuItem
}

// Tray manages the system tray icon and menu. Run must be called on the
// main goroutine; everything else may be called from anywhere.
type Tray struct {
	tooltip string
	items   []*MenuItem
	quitCh  chan struct{}
	titleCh chan string
}

// New creates a tray with the given tooltip.
func New(tooltip string) *Tray {
	return &Tray{
		tooltip: tooltip,
		quitCh:  make(chan struct{}),
		titleCh: make(chan string, 4),
	}
}

// AddMenuItem appends a clickable menu entry. Must be called before Run.
func (t *Tray) AddMenuItem(title string, callback func()) {
	t.items = append(t.items, &MenuItem{Title: title, Callback: callback})
}

// AddSeparator appends a menu separator. Must be called before Run.
func (t *Tray) AddSeparator() {
	t.items = append(t.items, nil)
}

// SetContext updates the tray title to reflect the active context.
func (t *Tray) SetContext(ctx types.ScreenContext) {
	label := "tx2tx: center"
	if ctx.Remote() {
		label = "tx2tx: " + string(ctx)
	}
	select {
	case t.titleCh <- label:
	default:
	}
}

// Run starts the tray event loop and blocks until Stop.
func (t *Tray) Run() {
	systray.Run(t.setup, func() { close(t.quitCh) })
}

// Stop tears the tray down, unblocking Run.
func (t *Tray) Stop() {
	systray.Quit()
}

func (t *Tray) setup() {
	systray.SetTitle("tx2tx")
	systray.SetTooltip(t.tooltip)
	systray.SetIcon(iconPNG())

	for _, entry := range t.items {
		if entry == nil {
			systray.AddSeparator()
			continue
		}
		entry.item = systray.AddMenuItem(entry.Title, "")
		if entry.Callback != nil {
			go func(mi *MenuItem) {
				for {
					select {
					case <-mi.item.ClickedCh:
						mi.Callback()
					case <-t.quitCh:
						return
					}
				}
			}(entry)
		}
	}

	go func() {
		for {
			select {
			case title := <-t.titleCh:
				systray.SetTitle(title)
			case <-t.quitCh:
				return
			}
		}
	}()
}

// iconPNG renders the 16x16 indicator icon: a filled square with a border,
// enough to be visible in any tray theme.
func iconPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	border := color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xFF}
	fill := color.RGBA{R: 0x4C, G: 0xAF, B: 0x50, A: 0xFF}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if x < 2 || x > 13 || y < 2 || y > 13 {
				img.Set(x, y, color.RGBA{})
			} else if x == 2 || x == 13 || y == 2 || y == 13 {
				img.Set(x, y, border)
			} else {
				img.Set(x, y, fill)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
