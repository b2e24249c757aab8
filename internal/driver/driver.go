// Package driver runs a CHIP-8 machine against a presentation shell: it paces
// instruction execution, ticks timers at a fixed frame rate, samples the
// keypad once per frame and forwards display changes and tone state.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kapitanov/chip8core/internal/vm"
)

const (
	DefaultInstructionsPerSecond = 500
	DefaultTimerHz               = 60
)

var (
	ErrReboot = errors.New("reboot")
	ErrQuit   = errors.New("quit")
)

// HAL is the presentation shell: display output, keyboard input and tone.
type HAL interface {
	ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error
	Draw(screen [vm.ScreenHeight]uint64) error
	Tone(on bool) error
}

// Machine is the part of the VM the driver needs.
type Machine interface {
	Step()
	Reset()
	TickTimers() bool
	SetKeys(keys [vm.KeyCount]bool)
	Screen() [vm.ScreenHeight]uint64
	ConsumeChanged() bool
	PC() uint16
	Memory(addr uint16) uint8
}

type Config struct {
	InstructionsPerSecond int
	TimerHz               int
}

func (c Config) withDefaults() Config {
	if c.InstructionsPerSecond <= 0 {
		c.InstructionsPerSecond = DefaultInstructionsPerSecond
	}
	if c.TimerHz <= 0 {
		c.TimerHz = DefaultTimerHz
	}
	return c
}

type Driver struct {
	cfg     Config
	machine Machine
	hal     HAL

	keys   [vm.KeyCount]bool // Keys currently held, updated by the HAL callbacks
	budget int               // Instruction budget carried between frames, scaled by TimerHz
	tone   bool
	looped bool
}

func New(cfg Config, machine Machine, hal HAL) *Driver {
	return &Driver{
		cfg:     cfg.withDefaults(),
		machine: machine,
		hal:     hal,
	}
}

// Run drives the machine until the HAL asks to quit or ctx is done.
// A reboot request resets the machine and keeps running.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(d.cfg.TimerHz))
	defer ticker.Stop()

	for {
		err := d.frame()

		if errors.Is(err, ErrQuit) {
			return nil
		}

		if errors.Is(err, ErrReboot) {
			slog.Info("reboot")
			d.reset()
			continue
		}

		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Driver) reset() {
	d.machine.Reset()
	d.keys = [vm.KeyCount]bool{}
	d.budget = 0
	d.looped = false
}

// frame executes one timer period worth of instructions, then ticks the
// timers, samples input and redraws.
func (d *Driver) frame() error {
	d.budget += d.cfg.InstructionsPerSecond
	for ; d.budget >= d.cfg.TimerHz; d.budget -= d.cfg.TimerHz {
		pc := d.machine.PC()
		d.machine.Step()

		if !d.looped && pc == d.machine.PC() && d.jumpsToSelf(pc) {
			slog.Info("program looped", "pc", fmt.Sprintf("0x%04x", pc))
			d.looped = true
		}
	}

	tone := d.machine.TickTimers()
	if tone != d.tone {
		if err := d.hal.Tone(tone); err != nil {
			return err
		}
		d.tone = tone
	}

	if d.machine.ConsumeChanged() {
		if err := d.hal.Draw(d.machine.Screen()); err != nil {
			return err
		}
	}

	if err := d.hal.ReadInput(d.keyDown, d.keyUp); err != nil {
		return err
	}
	d.machine.SetKeys(d.keys)

	return nil
}

func (d *Driver) jumpsToSelf(pc uint16) bool {
	in := vm.Instruction(uint16(d.machine.Memory(pc))<<8 | uint16(d.machine.Memory(pc+1)))
	return in.Opcode() == 0x1 && in.NNN() == pc
}

func (d *Driver) keyDown(key vm.Key) {
	d.keys[key&0x0F] = true
}

func (d *Driver) keyUp(key vm.Key) {
	d.keys[key&0x0F] = false
}
