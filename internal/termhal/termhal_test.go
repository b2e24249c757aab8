package termhal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kapitanov/chip8core/internal/driver"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyRecorder struct {
	down []vm.Key
	up   []vm.Key
}

func (r *keyRecorder) keyDown(k vm.Key) { r.down = append(r.down, k) }
func (r *keyRecorder) keyUp(k vm.Key) { r.up = append(r.up, k) }

func feed(t *Terminal, s string) {
	for _, b := range []byte(s) {
		t.input <- b
	}
}

func TestKeyMap(t *testing.T) {
	layout := "1234qwerasdfzxcv"
	want := []vm.Key{
		vm.Key1, vm.Key2, vm.Key3, vm.KeyC,
		vm.Key4, vm.Key5, vm.Key6, vm.KeyD,
		vm.Key7, vm.Key8, vm.Key9, vm.KeyE,
		vm.KeyA, vm.Key0, vm.KeyB, vm.KeyF,
	}

	for i, b := range []byte(layout) {
		key, ok := keyMap(b)
		require.True(t, ok, string(b))
		assert.Equal(t, want[i], key, string(b))

		upper, ok := keyMap(byte(strings.ToUpper(string(b))[0]))
		require.True(t, ok)
		assert.Equal(t, key, upper)
	}

	_, ok := keyMap('p')
	assert.False(t, ok)
}

func TestReadInputHoldsKeysForOneFrame(t *testing.T) {
	term := newTerminal(&bytes.Buffer{})
	rec := &keyRecorder{}

	feed(term, "1v")
	require.NoError(t, term.ReadInput(rec.keyDown, rec.keyUp))
	assert.Equal(t, []vm.Key{vm.Key1, vm.KeyF}, rec.down)
	assert.Empty(t, rec.up)

	require.NoError(t, term.ReadInput(rec.keyDown, rec.keyUp))
	assert.Equal(t, []vm.Key{vm.Key1, vm.KeyF}, rec.up)
	assert.Empty(t, term.held)
}

func TestReadInputControlKeys(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"\x1b", driver.ErrQuit},
		{"\x03", driver.ErrQuit},
		{"\x7f", driver.ErrReboot},
		{"\x08", driver.ErrReboot},
		{"p", nil},
	}

	for _, test := range tests {
		term := newTerminal(&bytes.Buffer{})
		rec := &keyRecorder{}
		feed(term, test.input)

		err := term.ReadInput(rec.keyDown, rec.keyUp)
		if test.want == nil {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, test.want)
		}
		assert.Empty(t, rec.down)
	}
}

func TestReadInputSkipsEscapeSequences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []vm.Key
	}{
		{"arrow up", "\x1b[A1", []vm.Key{vm.Key1}},
		{"page down", "\x1b[6~q", []vm.Key{vm.Key4}},
		{"shifted arrow", "\x1b[1;2Cv", []vm.Key{vm.KeyF}},
		{"f1", "\x1bOPx", []vm.Key{vm.Key0}},
		{"arrow only", "\x1b[B", nil},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			term := newTerminal(&bytes.Buffer{})
			rec := &keyRecorder{}
			feed(term, test.input)

			require.NoError(t, term.ReadInput(rec.keyDown, rec.keyUp))
			assert.Equal(t, test.want, rec.down)
		})
	}
}

func TestListen(t *testing.T) {
	term := newTerminal(&bytes.Buffer{})

	term.listen(strings.NewReader("qx"))

	assert.Equal(t, byte('q'), <-term.input)
	assert.Equal(t, byte('x'), <-term.input)
}

func TestRender(t *testing.T) {
	var screen [vm.ScreenHeight]uint64
	screen[0] = 0xC000000000000001
	screen[1] = 0xA000000000000001

	lines := strings.Split(render(screen), "\r\n")

	require.Len(t, lines, vm.ScreenHeight/2+1)
	first := []rune(lines[0])
	require.Len(t, first, vm.ScreenWidth)
	assert.Equal(t, '█', first[0])
	assert.Equal(t, '▀', first[1])
	assert.Equal(t, '▄', first[2])
	assert.Equal(t, ' ', first[3])
	assert.Equal(t, '█', first[63])
	assert.Equal(t, strings.Repeat(" ", vm.ScreenWidth), lines[1])
	assert.Equal(t, "", lines[len(lines)-1])
}

func TestDraw(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out)

	var screen [vm.ScreenHeight]uint64
	require.NoError(t, term.Draw(screen))

	assert.True(t, strings.HasPrefix(out.String(), cursorHome))
	assert.Equal(t, cursorHome+render(screen), out.String())
}

func TestTone(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out)

	require.NoError(t, term.Tone(true))
	require.NoError(t, term.Tone(false))

	assert.Equal(t, bell, out.String())
}
