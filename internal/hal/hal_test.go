package hal

import (
	"testing"

	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/stretchr/testify/assert"
	"github.com/veandco/go-sdl2/sdl"
)

func TestFillBackBuffer(t *testing.T) {
	const fg, bg = uint32(1), uint32(2)

	var screen [vm.ScreenHeight]uint64
	screen[0] = 1 << 63
	screen[31] = 1

	dst := make([]uint32, vm.ScreenWidth*vm.ScreenHeight)
	fillBackBuffer(dst, screen, fg, bg)

	assert.Equal(t, fg, dst[0])
	assert.Equal(t, bg, dst[1])
	assert.Equal(t, fg, dst[len(dst)-1])
	assert.Equal(t, bg, dst[len(dst)-2])
}

func TestSquareWave(t *testing.T) {
	wave := squareWave(1000, 8000, 16)

	high, low := byte(toneAmplitude), byte(256-toneAmplitude)
	assert.Equal(t, []byte{
		high, high, high, high, low, low, low, low,
		high, high, high, high, low, low, low, low,
	}, wave)
}

func TestKeyMap(t *testing.T) {
	key, ok := keyMap(sdl.SCANCODE_X)
	assert.True(t, ok)
	assert.Equal(t, vm.Key0, key)

	key, ok = keyMap(sdl.SCANCODE_V)
	assert.True(t, ok)
	assert.Equal(t, vm.KeyF, key)

	_, ok = keyMap(sdl.SCANCODE_P)
	assert.False(t, ok)
}

func TestKeypadCoversEveryKey(t *testing.T) {
	seen := make(map[vm.Key]bool)
	for _, key := range keypad {
		seen[key] = true
	}

	assert.Len(t, keypad, vm.KeyCount)
	assert.Len(t, seen, vm.KeyCount)
}
