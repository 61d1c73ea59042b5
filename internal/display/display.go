// Package display implements the periodic census output surface: a
// ticking printer that reports island_size, per-species counts, and
// current vegetation, suppressed while a menu is open. It is a
// boundary collaborator — it reads the simulation core only through
// read sections, registry lookups, and the vegetation counters, and
// never mutates anything.
package display

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/nbtaylor/island/internal/config"
	"github.com/nbtaylor/island/internal/epoch"
	"github.com/nbtaylor/island/internal/registry"
	"github.com/nbtaylor/island/internal/vegetation"
)

// DefaultRefresh is the default periodic output interval.
const DefaultRefresh = time.Second

// eraseScreen is the same clear-then-home escape steveyegge/beads sends
// before redrawing a list view.
const eraseScreen = "\x1b[2J\x1b[H"

// Printer owns the styling and the collaborators it reads from.
type Printer struct {
	out         io.Writer
	reg         *registry.Registry
	cfg         *config.Cell
	veg         *vegetation.Vegetation
	style       lipgloss.Style
	clearScreen bool
}

// New builds a Printer writing to out. Color detection follows
// termenv's own profile probe: a real terminal gets ColorProfile,
// anything else (pipes, files, CI) is forced to Ascii so a redirected
// census stream never carries escape codes. clearScreen mirrors the
// inverse of the `-c` flag: when true, each render erases the screen
// before printing the census line.
func New(out io.Writer, reg *registry.Registry, cfg *config.Cell, veg *vegetation.Vegetation, clearScreen bool) *Printer {
	profile := termenv.Ascii
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		profile = termenv.ColorProfile()
	}
	lipgloss.SetColorProfile(profile)
	style := lipgloss.NewStyle().Bold(true)
	return &Printer{out: out, reg: reg, cfg: cfg, veg: veg, style: style, clearScreen: clearScreen}
}

// Run ticks every refresh, rendering a census line unless menuOpen
// reports true, until stop is closed.
func (p *Printer) Run(domain *epoch.Domain, refresh time.Duration, menuOpen func() bool, stop <-chan struct{}) {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	r := domain.Register()
	defer domain.Unregister(r)

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if menuOpen() {
				continue
			}
			p.render(r, domain)
		}
	}
}

func (p *Printer) render(r *epoch.Reader, domain *epoch.Domain) {
	r.EnterRead(domain)
	islandSize := p.cfg.Snapshot(r).IslandSize
	gerbils := p.reg.Count(registry.GerbilView)
	cats := p.reg.Count(registry.CatView)
	snakes := p.reg.Count(registry.SnakeView)
	r.LeaveRead()

	flowers, trees := p.veg.Counts()

	line := fmt.Sprintf("island_size=%d  gerbils=%d cats=%d snakes=%d  flowers=%d trees=%d",
		islandSize, gerbils, cats, snakes, flowers, trees)
	if p.clearScreen {
		fmt.Fprint(p.out, eraseScreen)
	}
	fmt.Fprintln(p.out, p.style.Render(line))
}
