package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHAL struct {
	draws  [][vm.ScreenHeight]uint64
	tones  []bool
	frames int

	// input returns the keys to press and release for a frame, and an error
	// to report instead of input.
	input func(frame int) (down, up []vm.Key, err error)
}

func (h *fakeHAL) ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error {
	h.frames++
	if h.input == nil {
		return nil
	}

	down, up, err := h.input(h.frames)
	if err != nil {
		return err
	}
	for _, k := range down {
		keyDown(k)
	}
	for _, k := range up {
		keyUp(k)
	}
	return nil
}

func (h *fakeHAL) Draw(screen [vm.ScreenHeight]uint64) error {
	h.draws = append(h.draws, screen)
	return nil
}

func (h *fakeHAL) Tone(on bool) error {
	h.tones = append(h.tones, on)
	return nil
}

func newMachine(t *testing.T, program ...uint16) *vm.VM {
	t.Helper()

	rom := make([]byte, 0, 2*len(program))
	for _, word := range program {
		rom = append(rom, byte(word>>8), byte(word))
	}

	m := vm.New()
	require.NoError(t, m.Load(rom))
	return m
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultInstructionsPerSecond, cfg.InstructionsPerSecond)
	assert.Equal(t, DefaultTimerHz, cfg.TimerHz)

	cfg = Config{InstructionsPerSecond: 1000, TimerHz: 50}.withDefaults()
	assert.Equal(t, 1000, cfg.InstructionsPerSecond)
	assert.Equal(t, 50, cfg.TimerHz)
}

func TestFrameRunsBudgetedInstructions(t *testing.T) {
	// add v0, 1 ; jmp 0x200
	m := newMachine(t, 0x7001, 0x1200)
	d := New(Config{InstructionsPerSecond: 90, TimerHz: 60}, m, &fakeHAL{})

	// 1.5 instructions per frame: 1, 2, 1, 2...
	require.NoError(t, d.frame())
	assert.Equal(t, uint16(0x202), m.PC())

	require.NoError(t, d.frame())
	assert.Equal(t, uint16(0x202), m.PC())
	assert.Equal(t, uint8(2), m.Register(0))

	require.NoError(t, d.frame())
	require.NoError(t, d.frame())
	assert.Equal(t, uint8(3), m.Register(0))
	assert.Equal(t, uint16(0x200), m.PC())
}

func TestFrameDrawsOnlyWhenChanged(t *testing.T) {
	// cls ; jmp 0x202
	m := newMachine(t, 0x00E0, 0x1202)
	h := &fakeHAL{}
	d := New(Config{InstructionsPerSecond: 60, TimerHz: 60}, m, h)

	require.NoError(t, d.frame())
	require.NoError(t, d.frame())
	require.NoError(t, d.frame())

	assert.Len(t, h.draws, 1)
	assert.True(t, d.looped)
}

func TestFrameTone(t *testing.T) {
	// v0 = 2 ; sound = v0 ; jmp 0x204
	m := newMachine(t, 0x6002, 0xF018, 0x1204)
	h := &fakeHAL{}
	d := New(Config{InstructionsPerSecond: 120, TimerHz: 60}, m, h)

	require.NoError(t, d.frame()) // timer set to 2, tick -> 1
	require.NoError(t, d.frame()) // tick -> 0
	require.NoError(t, d.frame()) // silent

	assert.Equal(t, []bool{true, false}, h.tones)
}

func TestFrameFeedsKeys(t *testing.T) {
	// wait for key into v5
	m := newMachine(t, 0xF50A, 0x1202)
	h := &fakeHAL{
		input: func(frame int) ([]vm.Key, []vm.Key, error) {
			if frame == 2 {
				return []vm.Key{vm.KeyB}, nil, nil
			}
			return nil, nil, nil
		},
	}
	d := New(Config{InstructionsPerSecond: 60, TimerHz: 60}, m, h)

	require.NoError(t, d.frame())
	require.NoError(t, d.frame())
	assert.Equal(t, uint16(0x200), m.PC())

	require.NoError(t, d.frame())
	assert.Equal(t, uint16(0x202), m.PC())
	assert.Equal(t, uint8(0xB), m.Register(5))
}

func TestRunQuits(t *testing.T) {
	m := newMachine(t, 0x1200)
	h := &fakeHAL{
		input: func(frame int) ([]vm.Key, []vm.Key, error) {
			if frame == 3 {
				return nil, nil, ErrQuit
			}
			return nil, nil, nil
		},
	}
	d := New(Config{TimerHz: 1000}, m, h)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 3, h.frames)
}

func TestRunReboots(t *testing.T) {
	// add v0, 1 ; jmp 0x202
	m := newMachine(t, 0x7001, 0x1202)
	var before uint8
	h := &fakeHAL{}
	h.input = func(frame int) ([]vm.Key, []vm.Key, error) {
		switch frame {
		case 2:
			before = m.Register(0)
			return []vm.Key{vm.Key1}, nil, ErrReboot
		case 3:
			return nil, nil, ErrQuit
		}
		return nil, nil, nil
	}
	d := New(Config{InstructionsPerSecond: 1000, TimerHz: 1000}, m, h)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, uint8(1), before)
	assert.Equal(t, uint8(1), m.Register(0))
	assert.Equal(t, [vm.KeyCount]bool{}, d.keys)
}

func TestRunStopsOnContext(t *testing.T) {
	m := newMachine(t, 0x1200)
	d := New(Config{}, m, &fakeHAL{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := d.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunReturnsHALErrors(t *testing.T) {
	failure := errors.New("display gone")

	m := newMachine(t, 0x1200)
	h := &fakeHAL{
		input: func(int) ([]vm.Key, []vm.Key, error) {
			return nil, nil, failure
		},
	}
	d := New(Config{}, m, h)

	assert.ErrorIs(t, d.Run(context.Background()), failure)
}
