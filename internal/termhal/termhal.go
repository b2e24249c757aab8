// Package termhal is a presentation shell that renders the display with
// Unicode half blocks and reads the keypad from a raw-mode terminal.
//
// Terminals report key presses but never releases, so a key read during a
// frame is held for that frame only and released at the start of the next.
package termhal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kapitanov/chip8core/internal/driver"
	"github.com/kapitanov/chip8core/internal/vm"
	"golang.org/x/term"
)

const (
	inputBuffer = 64

	keyCtrlC     = 0x03
	keyBackspace = 0x08
	keyEscape    = 0x1b
	keyDelete    = 0x7f

	cursorHome = "\x1b[H"
	clearAll   = "\x1b[2J"
	hideCursor = "\x1b[?25l"
	showCursor = "\x1b[?25h"
	bell       = "\a"
)

var _ driver.HAL = (*Terminal)(nil)

type Terminal struct {
	out   *bufio.Writer
	input chan byte
	held  []vm.Key

	fd       int
	oldState *term.State
}

// New switches stdin to raw mode and starts reading key presses from it.
func New() (*Terminal, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal")
	}

	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		if w < vm.ScreenWidth || h < vm.ScreenHeight/2 {
			slog.Warn("termhal: terminal is smaller than the display", "width", w, "height", h)
		}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to set raw mode: %w", err)
	}
	slog.Debug("termhal: raw mode")

	t := newTerminal(os.Stdout)
	t.fd = fd
	t.oldState = oldState

	go t.listen(os.Stdin)

	if _, err := t.out.WriteString(hideCursor + clearAll); err != nil {
		t.Shutdown()
		return nil, fmt.Errorf("failed to prepare terminal: %w", err)
	}

	if err := t.out.Flush(); err != nil {
		t.Shutdown()
		return nil, fmt.Errorf("failed to prepare terminal: %w", err)
	}

	return t, nil
}

func newTerminal(w io.Writer) *Terminal {
	return &Terminal{
		out:   bufio.NewWriter(w),
		input: make(chan byte, inputBuffer),
	}
}

// listen forwards bytes from r until it fails. The goroutine is left
// blocked in Read on shutdown; the process is exiting by then.
func (t *Terminal) listen(r io.Reader) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.input <- buf[0]
		}
		if err != nil {
			slog.Debug("termhal: stop reading input", "err", err)
			return
		}
	}
}

func (t *Terminal) Shutdown() {
	_, _ = t.out.WriteString(showCursor)
	if err := t.out.Flush(); err != nil {
		slog.Error("failed to flush terminal", "err", err)
	}

	if t.oldState != nil {
		if err := term.Restore(t.fd, t.oldState); err != nil {
			slog.Error("failed to restore terminal", "err", err)
		}
		t.oldState = nil
	}
}

func (t *Terminal) ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error {
	for _, key := range t.held {
		keyUp(key)
	}
	t.held = t.held[:0]

	for {
		select {
		case b := <-t.input:
			switch b {
			case keyEscape:
				if t.skipEscapeSequence() {
					continue
				}
				slog.Debug("termhal: exit requested")
				return driver.ErrQuit
			case keyCtrlC:
				slog.Debug("termhal: exit requested")
				return driver.ErrQuit
			case keyBackspace, keyDelete:
				return driver.ErrReboot
			}

			if key, ok := keyMap(b); ok {
				keyDown(key)
				t.held = append(t.held, key)
			}

		default:
			return nil
		}
	}
}

// skipEscapeSequence drops the rest of an arrow or function key sequence
// that follows ESC. It reports false for a lone ESC.
func (t *Terminal) skipEscapeSequence() bool {
	var introducer byte
	select {
	case introducer = <-t.input:
	default:
		return false
	}

	switch introducer {
	case '[':
		// CSI: parameters and intermediates up to a final byte in 0x40-0x7e
		for {
			select {
			case b := <-t.input:
				if b >= 0x40 && b <= 0x7e {
					return true
				}
			default:
				return true
			}
		}
	case 'O':
		// SS3: one final byte
		select {
		case <-t.input:
		default:
		}
		return true
	default:
		// Alt+key arrives as ESC followed by the key; ignore both.
		return true
	}
}

func keyMap(b byte) (vm.Key, bool) {
	// Physical                Logical
	// ================        =================
	// | 1 | 2 | 3 | 4 |       | 1 | 2 | 3 | C |
	// | q | w | e | r |       | 4 | 5 | 6 | D |
	// | a | s | d | f |  <=>  | 7 | 8 | 9 | E |
	// | z | x | c | v |       | A | 0 | B | F |
	// ================        =================

	switch b {
	case 'x', 'X':
		return vm.Key0, true
	case '1':
		return vm.Key1, true
	case '2':
		return vm.Key2, true
	case '3':
		return vm.Key3, true
	case 'q', 'Q':
		return vm.Key4, true
	case 'w', 'W':
		return vm.Key5, true
	case 'e', 'E':
		return vm.Key6, true
	case 'a', 'A':
		return vm.Key7, true
	case 's', 'S':
		return vm.Key8, true
	case 'd', 'D':
		return vm.Key9, true
	case 'z', 'Z':
		return vm.KeyA, true
	case 'c', 'C':
		return vm.KeyB, true
	case '4':
		return vm.KeyC, true
	case 'r', 'R':
		return vm.KeyD, true
	case 'f', 'F':
		return vm.KeyE, true
	case 'v', 'V':
		return vm.KeyF, true
	default:
		return 0, false
	}
}

func (t *Terminal) Draw(screen [vm.ScreenHeight]uint64) error {
	if _, err := t.out.WriteString(cursorHome + render(screen)); err != nil {
		return fmt.Errorf("failed to draw: %w", err)
	}
	return t.out.Flush()
}

func (t *Terminal) Tone(on bool) error {
	if !on {
		return nil
	}

	if _, err := t.out.WriteString(bell); err != nil {
		return fmt.Errorf("failed to ring bell: %w", err)
	}
	return t.out.Flush()
}

// render packs two display rows into each text line.
func render(screen [vm.ScreenHeight]uint64) string {
	var sb strings.Builder

	for y := 0; y < vm.ScreenHeight; y += 2 {
		top, bottom := screen[y], screen[y+1]

		for x := 0; x < vm.ScreenWidth; x++ {
			mask := uint64(1) << (63 - x)

			switch {
			case top&mask != 0 && bottom&mask != 0:
				sb.WriteRune('█')
			case top&mask != 0:
				sb.WriteRune('▀')
			case bottom&mask != 0:
				sb.WriteRune('▄')
			default:
				sb.WriteByte(' ')
			}
		}

		// Raw mode does not translate \n.
		sb.WriteString("\r\n")
	}

	return sb.String()
}
