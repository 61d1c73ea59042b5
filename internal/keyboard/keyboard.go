// Package keyboard implements the raw-terminal keyboard input surface
// a single-character command surface, read with no cooked-mode buffering
// and no local echo, dispatching into the root/config/god menus and
// the program-wide exit_program flag. It is a boundary collaborator —
// it only ever touches the simulation core through config.Cell's
// publish protocol, ecology.Engine's god-action entry points, and the
// shared shutdown signal; it holds none of the core's own locks.
package keyboard

import (
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/nbtaylor/island/internal/config"
	"github.com/nbtaylor/island/internal/ecology"
	"github.com/nbtaylor/island/internal/epoch"
	"github.com/nbtaylor/island/internal/vegetation"
)

// Reader puts stdin into raw mode for the lifetime of the struct and
// restores it on Close, following the same acquire/defer-restore shape
// as a terminal-attach session elsewhere in the retrieval pack.
type Reader struct {
	in       io.Reader
	fd       int
	oldState *term.State
}

// Open puts stdin into raw mode, if it is a terminal. If stdin is not
// a terminal (e.g. under test, or redirected), Open succeeds anyway
// and reads simply return io.EOF once the input is exhausted.
func Open() (*Reader, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &Reader{in: os.Stdin, fd: fd}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &Reader{in: os.Stdin, fd: fd, oldState: old}, nil
}

// Close restores the terminal to its prior state.
func (r *Reader) Close() error {
	if r.oldState == nil {
		return nil
	}
	return term.Restore(r.fd, r.oldState)
}

func (r *Reader) readByte() (byte, error) {
	var buf [1]byte
	_, err := r.in.Read(buf[:])
	return buf[0], err
}

// readNumber accumulates ASCII digits until Enter (or a non-digit,
// non-Enter byte, which cancels entry) and returns the parsed value.
// Digit-at-a-time reads keep the raw, unbuffered discipline: there is
// no switch back to cooked mode for numeric entry.
func (r *Reader) readNumber() (uint64, bool) {
	var n uint64
	var any bool
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, false
		}
		switch {
		case b == '\r' || b == '\n':
			return n, any
		case b >= '0' && b <= '9':
			n = n*10 + uint64(b-'0')
			any = true
		default:
			return 0, false
		}
	}
}

// Controller owns the root/config/god menu state machine and the
// program-wide shutdown signal.
type Controller struct {
	reader   *Reader
	cfg      *config.Cell
	domain   *epoch.Domain
	engine   *ecology.Engine
	veg      *vegetation.Vegetation
	shutdown func()
	menuOpen func(bool)
	log      zerolog.Logger
	rng      *rand.Rand
}

// New builds a Controller. shutdown is invoked exactly once, when 'q'
// is read at the top level. menuOpen is called with true while any
// menu is open and false once it closes, so the periodic display
// surface knows to suppress its own output.
func New(reader *Reader, cfg *config.Cell, domain *epoch.Domain, engine *ecology.Engine, veg *vegetation.Vegetation, shutdown func(), menuOpen func(bool), log zerolog.Logger) *Controller {
	return &Controller{
		reader:   reader,
		cfg:      cfg,
		domain:   domain,
		engine:   engine,
		veg:      veg,
		shutdown: shutdown,
		menuOpen: menuOpen,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run reads and dispatches commands until stdin is exhausted or 'q' is
// read at the top level. Intended to run on its own goroutine.
func (c *Controller) Run() {
	for {
		b, err := c.reader.readByte()
		if err != nil {
			return
		}
		switch b {
		case 'q':
			c.shutdown()
			return
		case 'm':
			c.rootMenu()
		}
	}
}

func (c *Controller) rootMenu() {
	c.menuOpen(true)
	defer c.menuOpen(false)

	for {
		b, err := c.reader.readByte()
		if err != nil {
			return
		}
		switch b {
		case 'c':
			c.configMenu()
		case 'g':
			c.godMenu()
		case 'x':
			return
		}
	}
}

func (c *Controller) configMenu() {
	draft := c.cfg.UpdateBegin()
	for {
		b, err := c.reader.readByte()
		if err != nil {
			c.cfg.UpdateAbort(draft)
			return
		}
		switch b {
		case 'x':
			if err := c.cfg.UpdateEnd(draft); err != nil {
				c.log.Warn().Err(err).Msg("config edit rejected")
			}
			return
		case 'q':
			c.cfg.UpdateAbort(draft)
			return
		case 'i':
			if n, ok := c.reader.readNumber(); ok && n > draft.IslandSize {
				draft.IslandSize = n
			}
		case 'd':
			if n, ok := c.reader.readNumber(); ok {
				draft.StepDelay = msToDuration(n)
			}
		case 'g':
			if n, ok := c.reader.readNumber(); ok {
				draft.Gerbil.MaxBirthStamina = n
			}
		case 'c':
			if n, ok := c.reader.readNumber(); ok {
				draft.Cat.MaxBirthStamina = n
			}
		case 's':
			if n, ok := c.reader.readNumber(); ok {
				draft.Snake.MaxBirthStamina = n
			}
		}
	}
}

func (c *Controller) godMenu() {
	r := c.domain.Register()
	defer c.domain.Unregister(r)

	for {
		b, err := c.reader.readByte()
		if err != nil {
			return
		}
		switch b {
		case 'x':
			return
		case 'f':
			if n, ok := c.reader.readNumber(); ok {
				c.veg.SetFlowers(n)
			}
		case 't':
			if n, ok := c.reader.readNumber(); ok {
				c.veg.SetTrees(n)
			}
		case 'g':
			c.spawnN(r, config.Gerbil)
		case 'c':
			c.spawnN(r, config.Cat)
		case 's':
			c.spawnN(r, config.Snake)
		}
	}
}

func msToDuration(ms uint64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// spawnKeyAttempts bounds how many colliding keys spawnN will retry
// before giving up on a single requested spawn and moving to the next.
const spawnKeyAttempts = 8

func (c *Controller) spawnN(r *epoch.Reader, species config.Species) {
	n, ok := c.reader.readNumber()
	if !ok {
		return
	}
	r.EnterRead(c.domain)
	defer r.LeaveRead()

	for i := uint64(0); i < n; i++ {
		for attempt := 0; attempt < spawnKeyAttempts; attempt++ {
			if c.engine.GodSpawn(r, c.rng, species, c.rng.Uint64()) {
				break
			}
		}
	}
}
