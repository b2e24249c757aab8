package vm

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16
	ScreenWidth   = 64
	ScreenHeight  = 32
	KeyCount      = 16

	ProgramStart    = uint16(0x200)
	MaxProgramSize  = MemorySize - int(ProgramStart)
	InstructionSize = 2

	addrMask  = 0x0FFF
	stackMask = StackSize - 1
	flag      = 0x0F
)

// ErrROMTooLarge is returned by Load when the program does not fit
// between ProgramStart and the end of memory.
var ErrROMTooLarge = errors.New("rom too large")

// Fault is a stack misuse detected during execution.
type Fault int

const (
	FaultStackOverflow Fault = iota + 1
	FaultStackUnderflow
)

func (f Fault) String() string {
	switch f {
	case FaultStackOverflow:
		return "stack overflow"
	case FaultStackUnderflow:
		return "stack underflow"
	default:
		return fmt.Sprintf("fault(%d)", int(f))
	}
}

type VM struct {
	memory    [MemorySize]uint8    // Memory (4k)
	registers [RegisterCount]uint8 // V registers (V0-VF)

	stack [StackSize]uint16 // Stack
	sp    uint8             // Stack pointer, 4 bits
	depth int               // Nesting depth, only used to report faults

	pc    uint16 // Program counter, 12 bits
	index uint16 // Index register, 12 bits

	delayTimer uint8 // Delay timer
	soundTimer uint8 // Sound timer

	screen  [ScreenHeight]uint64 // One row per entry, bit 63 is the leftmost column
	changed bool                 // Indicates the screen needs a redraw

	keys     [KeyCount]bool // Keypad state for the current frame
	prevKeys [KeyCount]bool // Keypad state for the previous frame

	program []byte

	rand      *rand.Rand
	onUnknown func(pc uint16, in Instruction)
	onFault   func(pc uint16, f Fault)
}

type Key uint8

const (
	Key0 = Key(iota)
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
)

// Option configures a VM.
type Option func(*VM)

// WithRand sets the random source used by CXNN.
func WithRand(r *rand.Rand) Option {
	return func(vm *VM) {
		vm.rand = r
	}
}

// WithUnknownOpcodeHandler registers a callback invoked for instruction words
// that match no opcode. Execution still treats them as no-ops.
func WithUnknownOpcodeHandler(fn func(pc uint16, in Instruction)) Option {
	return func(vm *VM) {
		vm.onUnknown = fn
	}
}

// WithFaultHandler registers a callback invoked on stack overflow or underflow.
func WithFaultHandler(fn func(pc uint16, f Fault)) Option {
	return func(vm *VM) {
		vm.onFault = fn
	}
}

// New returns a zeroed machine with the font loaded and PC at ProgramStart.
func New(opts ...Option) *VM {
	vm := &VM{}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.rand == nil {
		vm.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	vm.initialize()
	return vm
}

// Load copies rom into memory at ProgramStart. Oversized programs are
// rejected without touching machine state.
func (vm *VM) Load(rom []byte) error {
	if len(rom) > MaxProgramSize {
		return fmt.Errorf("%w: %d bytes, at most %d fit", ErrROMTooLarge, len(rom), MaxProgramSize)
	}

	vm.program = append(vm.program[:0], rom...)

	slog.Info("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(vm.program))
	clear(vm.memory[ProgramStart:])
	copy(vm.memory[ProgramStart:], vm.program)
	return nil
}

// Reset restores the machine to the state right after the last Load.
func (vm *VM) Reset() {
	vm.initialize()

	slog.Debug("reload program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(vm.program))
	copy(vm.memory[ProgramStart:], vm.program)
}

func (vm *VM) initialize() {
	vm.pc = ProgramStart
	vm.index = 0
	vm.sp = 0
	vm.depth = 0

	vm.screen = [ScreenHeight]uint64{}
	vm.changed = true

	vm.stack = [StackSize]uint16{}
	vm.keys = [KeyCount]bool{}
	vm.prevKeys = [KeyCount]bool{}
	vm.registers = [RegisterCount]uint8{}
	vm.memory = [MemorySize]uint8{}

	slog.Debug("load font", "at", fmt.Sprintf("0x%04x", FontStart), "n", len(chip8Font))
	copy(vm.memory[FontStart:], chip8Font)

	vm.delayTimer = 0
	vm.soundTimer = 0
}

// TickTimers decrements the delay and sound timers toward zero. It reports
// whether the tone should sound during this tick.
func (vm *VM) TickTimers() bool {
	if vm.delayTimer > 0 {
		vm.delayTimer--
	}

	tone := vm.soundTimer > 0
	if tone {
		vm.soundTimer--
	}

	return tone
}

// SetKeys stores the keypad state for a new frame, keeping the previous
// frame for edge detection.
func (vm *VM) SetKeys(keys [KeyCount]bool) {
	vm.prevKeys = vm.keys
	vm.keys = keys
}

// Screen returns a copy of the display buffer.
func (vm *VM) Screen() [ScreenHeight]uint64 {
	return vm.screen
}

// Pixel reports whether the pixel at column x, row y is lit. Coordinates
// wrap in both directions.
func (vm *VM) Pixel(x, y int) bool {
	x = (x%ScreenWidth + ScreenWidth) % ScreenWidth
	y = (y%ScreenHeight + ScreenHeight) % ScreenHeight
	return vm.screen[y]&(1<<(63-uint(x))) != 0
}

// Changed reports whether the display was cleared or drawn since the last
// ConsumeChanged.
func (vm *VM) Changed() bool {
	return vm.changed
}

// ConsumeChanged returns the changed flag and clears it.
func (vm *VM) ConsumeChanged() bool {
	changed := vm.changed
	vm.changed = false
	return changed
}

func (vm *VM) PC() uint16 {
	return vm.pc
}

func (vm *VM) Index() uint16 {
	return vm.index
}

func (vm *VM) SP() uint8 {
	return vm.sp
}

func (vm *VM) Register(r uint8) uint8 {
	return vm.registers[r&0x0F]
}

func (vm *VM) DelayTimer() uint8 {
	return vm.delayTimer
}

func (vm *VM) SoundTimer() uint8 {
	return vm.soundTimer
}

// Memory returns the byte at addr, wrapped to 12 bits.
func (vm *VM) Memory(addr uint16) uint8 {
	return vm.memory[addr&addrMask]
}

// Step fetches, decodes and executes exactly one instruction.
func (vm *VM) Step() {
	vm.executeOpcode(vm.fetchOpcode())
}

func (vm *VM) fetchOpcode() Instruction {
	hi := vm.memory[vm.pc]
	lo := vm.memory[(vm.pc+1)&addrMask]

	vm.pc = (vm.pc + InstructionSize) & addrMask

	return Instruction(uint16(hi)<<8 | uint16(lo)) // Op code is two bytes
}

func (vm *VM) push(addr uint16) {
	if vm.depth == StackSize {
		vm.fault(FaultStackOverflow)
	} else {
		vm.depth++
	}

	vm.stack[vm.sp] = addr
	vm.sp = (vm.sp + 1) & stackMask
}

func (vm *VM) pop() uint16 {
	if vm.depth == 0 {
		vm.fault(FaultStackUnderflow)
	} else {
		vm.depth--
	}

	vm.sp = (vm.sp - 1) & stackMask
	return vm.stack[vm.sp]
}

func (vm *VM) fault(f Fault) {
	// pc already points past the faulting instruction
	pc := (vm.pc - InstructionSize) & addrMask
	slog.Warn("stack fault", "fault", f.String(), "pc", fmt.Sprintf("0x%04x", pc), "sp", vm.sp)
	if vm.onFault != nil {
		vm.onFault(pc, f)
	}
}
