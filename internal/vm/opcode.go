package vm

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
)

func (vm *VM) executeOpcode(in Instruction) {
	instr := decode(in)

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", (vm.pc-InstructionSize)&addrMask),
			"opcode", fmt.Sprintf("0x%04x", uint16(in)),
			"instr", instr.Name(in),
		)
	}

	instr.Execute(vm, in)
}

type instruction struct {
	Name    func(in Instruction) string
	Execute func(vm *VM, in Instruction)
}

func decode(in Instruction) instruction {
	switch in.Opcode() {
	case 0x0:
		switch in {
		case 0x00E0:
			// 00E0 - Clear screen
			return clsInstruction

		case 0x00EE:
			// 00EE - Return from subroutine
			return rtsInstruction
		}

	case 0x1:
		// 1NNN - Jumps to address NNN
		return jmpInstruction

	case 0x2:
		// 2NNN - Calls subroutine at NNN
		return jsrInstruction

	case 0x3:
		// 3XNN - Skips the next instruction if VX equals NN
		return skeq1Instruction

	case 0x4:
		// 4XNN - Skips the next instruction if VX does not equal NN
		return skne1Instruction

	case 0x5:
		// 5XY_ - Skips the next instruction if VX equals VY
		return skeq2Instruction

	case 0x6:
		// 6XNN - Sets VX to NN
		return mov1Instruction

	case 0x7:
		// 7XNN - Adds NN to VX
		return add1Instruction

	case 0x8:
		// 8XY_
		switch in.N() {
		case 0x0:
			// 8XY0 - Sets VX to the value of VY
			return mov2Instruction

		case 0x1:
			// 8XY1 - Sets VX to (VX OR VY)
			return orInstruction

		case 0x2:
			// 8XY2 - Sets VX to (VX AND VY)
			return andInstruction

		case 0x3:
			// 8XY3 - Sets VX to (VX XOR VY)
			return xorInstruction

		case 0x4:
			// 8XY4 - Adds VY to VX. VF is set to 1 when there's a carry, and to 0 when there isn't.
			return add2Instruction

		case 0x5:
			// 8XY5 - VY is subtracted from VX. VF is set to 0 when there's a borrow, and 1 when there isn't.
			return subInstruction

		case 0x6:
			// 8XY6 - Shifts VX right by one. VF is set to the value of the least significant bit of VX before the shift.
			return shrInstruction

		case 0x7:
			// 8XY7 - Sets VX to VY minus VX. VF is set to 0 when there's a borrow, and 1 when there isn't.
			return rsbInstruction

		case 0xE:
			// 8XYE - Shifts VX left by one. VF is set to the value of the most significant bit of VX before the shift.
			return shlInstruction
		}

	case 0x9:
		// 9XY_ - Skips the next instruction if VX doesn't equal VY
		return skne2Instruction

	case 0xA:
		// ANNN - Sets I to the address NNN
		return mviInstruction

	case 0xB:
		// BNNN - Jumps to the address NNN plus V0
		return jmiInstruction

	case 0xC:
		// CXNN - Sets VX to a random number, masked by NN
		return randInstruction

	case 0xD:
		// DXYN - Draws a sprite at coordinate (VX, VY) that has a width of 8
		// pixels and a height of N pixels.
		return spriteInstruction

	case 0xE:
		switch in.NN() {
		case 0x9E:
			// EX9E - Skips the next instruction if the key stored in VX is pressed
			return skprInstruction

		case 0xA1:
			// EXA1 - Skips the next instruction if the key stored in VX isn't pressed
			return skupInstruction
		}

	case 0xF:
		switch in.NN() {
		case 0x07:
			// FX07 - Sets VX to the value of the delay timer
			return gdelayInstruction

		case 0x0A:
			// FX0A - A key press is awaited, and then stored in VX
			return keyInstruction

		case 0x15:
			// FX15 - Sets the delay timer to VX
			return sdelayInstruction

		case 0x18:
			// FX18 - Sets the sound timer to VX
			return ssoundInstruction

		case 0x1E:
			// FX1E - Adds VX to I
			return adiInstruction

		case 0x29:
			// FX29 - Sets I to the location of the font glyph for the low nibble of VX
			return fontInstruction

		case 0x33:
			// FX33 - Stores the binary-coded decimal representation of VX
			// at the addresses I, I plus 1, and I plus 2
			return bcdInstruction

		case 0x55:
			// FX55 - Stores V0 to VX in memory starting at address I
			return strInstruction

		case 0x65:
			// FX65 - Reads memory starting at address I into V0...VX
			return ldrInstruction
		}
	}

	return unknownInstruction
}

func (vm *VM) skipIf(cond bool) {
	if cond {
		vm.pc = (vm.pc + InstructionSize) & addrMask
	}
}

func boolToFlag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

var (
	// 00E0	cls	Clear the screen
	clsInstruction = instruction{
		Name: func(in Instruction) string {
			return "cls"
		},
		Execute: func(vm *VM, in Instruction) {
			vm.screen = [ScreenHeight]uint64{}
			vm.changed = true
		},
	}

	// 00EE	rts	return from subroutine call
	rtsInstruction = instruction{
		Name: func(in Instruction) string {
			return "rts"
		},
		Execute: func(vm *VM, in Instruction) {
			vm.pc = vm.pop() & addrMask
		},
	}

	// 1xxx	jmp xxx	jump to address xxx
	jmpInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("jmp 0x%03x", in.NNN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.pc = in.NNN()
		},
	}

	// 2xxx	jsr xxx	jump to subroutine at address xxx
	jsrInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("jsr 0x%03x", in.NNN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.push(vm.pc)
			vm.pc = in.NNN()
		},
	}

	// 3rxx	skeq vr,xx	skip if register r = constant
	skeq1Instruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("skeq v%x, %d", in.X(), in.NN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.skipIf(vm.registers[in.X()] == in.NN())
		},
	}

	// 4rxx	skne vr,xx	skip if register r <> constant
	skne1Instruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("skne v%x, %d", in.X(), in.NN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.skipIf(vm.registers[in.X()] != in.NN())
		},
	}

	// 5ry0	skeq vr,vy	skip if register r = register y
	skeq2Instruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("skeq v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.skipIf(vm.registers[in.X()] == vm.registers[in.Y()])
		},
	}

	// 6rxx	mov vr,xx	move constant to register r
	mov1Instruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("mov v%x, %d", in.X(), in.NN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.registers[in.X()] = in.NN()
		},
	}

	// 7rxx	add vr,xx	add constant to register r	No carry generated
	add1Instruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("add v%x, %d", in.X(), in.NN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.registers[in.X()] += in.NN()
		},
	}

	// 8ry0	mov vr,vy	move register vy into vr
	mov2Instruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("mov v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.registers[in.X()] = vm.registers[in.Y()]
		},
	}

	// 8ry1	or rx,ry	or register vy into register vx
	orInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("or v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.registers[in.X()] |= vm.registers[in.Y()]
		},
	}

	// 8ry2	and rx,ry	and register vy into register vx
	andInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("and v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.registers[in.X()] &= vm.registers[in.Y()]
		},
	}

	// 8ry3	xor rx,ry	exclusive or register ry into register rx
	xorInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("xor v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.registers[in.X()] ^= vm.registers[in.Y()]
		},
	}

	// The flag is written before the destination: when X is VF the result wins.

	// 8ry4	add vr,vy	add register vy to vr,carry in vf
	add2Instruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("add v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			x := vm.registers[in.X()]
			y := vm.registers[in.Y()]

			vm.registers[flag] = boolToFlag(uint16(x)+uint16(y) > 0xFF)
			vm.registers[in.X()] = x + y
		},
	}

	// 8ry5	sub vr,vy	subtract register vy from vr,borrow in vf	vf set to 1 if no borrow
	subInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("sub v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			x := vm.registers[in.X()]
			y := vm.registers[in.Y()]

			vm.registers[flag] = boolToFlag(x >= y)
			vm.registers[in.X()] = x - y
		},
	}

	// 8r06	shr vr	shift register vr right, bit 0 goes into register vf
	shrInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("shr v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			x := vm.registers[in.X()]

			vm.registers[flag] = x & 0x1
			vm.registers[in.X()] = x >> 1
		},
	}

	// 8ry7	rsb vr,vy	subtract register vr from register vy, result in vr	vf set to 1 if no borrow
	rsbInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("rsb v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			x := vm.registers[in.X()]
			y := vm.registers[in.Y()]

			vm.registers[flag] = boolToFlag(y >= x)
			vm.registers[in.X()] = y - x
		},
	}

	// 8r0e	shl vr	shift register vr left,bit 7 goes into register vf
	shlInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("shl v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			x := vm.registers[in.X()]

			vm.registers[flag] = x >> 7
			vm.registers[in.X()] = x << 1
		},
	}

	// 9ry0	skne rx,ry	skip if register rx <> register ry
	skne2Instruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("skne v%x, v%x", in.X(), in.Y())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.skipIf(vm.registers[in.X()] != vm.registers[in.Y()])
		},
	}

	// axxx	mvi xxx	Load index register with constant xxx
	mviInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("mvi 0x%03x", in.NNN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.index = in.NNN()
		},
	}

	// bxxx	jmi xxx	Jump to address xxx+register v0
	jmiInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("jmi 0x%03x", in.NNN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.pc = (in.NNN() + uint16(vm.registers[0])) & addrMask
		},
	}

	// crxx	rand vr,xx	vr = random byte masked by xx
	randInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("rand v%x, 0x%02x", in.X(), in.NN())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.registers[in.X()] = uint8(vm.rand.UintN(256)) & in.NN()
		},
	}

	// drys	sprite rx,ry,s	Draw sprite at screen location rx,ry height s
	// Sprites stored in memory at location in index register, 8 bits wide.
	// Rows wrap vertically; columns wrap through the rotation of the packed row.
	// All drawing is xor drawing, vf is set to 1 if any lit pixel was hit.
	spriteInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("sprite v%x, v%x, %d", in.X(), in.Y(), in.N())
		},
		Execute: func(vm *VM, in Instruction) {
			xLocation := int(vm.registers[in.X()] % ScreenWidth)
			yLocation := int(vm.registers[in.Y()] % ScreenHeight)
			height := int(in.N())

			vm.registers[flag] = 0

			for y := 0; y < height; y++ {
				row := (yLocation + y) % ScreenHeight
				pixels := vm.memory[(vm.index+uint16(y))&addrMask]

				aligned := bits.RotateLeft64(uint64(pixels)<<56, -xLocation)
				if aligned&vm.screen[row] != 0 {
					vm.registers[flag] = 1
				}

				vm.screen[row] ^= aligned
			}

			vm.changed = true
		},
	}

	// ek9e	skpr k	skip if key (register rk) pressed	The key is a key number, see the chip-8 documentation
	skprInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("skpr v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.skipIf(vm.keys[vm.registers[in.X()]&0x0F])
		},
	}

	// eka1	skup k	skip if key (register rk) not pressed
	skupInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("skup v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.skipIf(!vm.keys[vm.registers[in.X()]&0x0F])
		},
	}

	// fr07	gdelay vr	get delay timer into vr
	gdelayInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("gdelay v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.registers[in.X()] = vm.delayTimer
		},
	}

	// fr0a	key vr	wait for keypress,put key in register vr
	// Only a key that went down since the previous frame counts. Without one
	// the instruction rewinds the program counter and runs again next step.
	keyInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("key v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			for i := range vm.keys {
				if vm.keys[i] && !vm.prevKeys[i] {
					vm.registers[in.X()] = uint8(i)
					return
				}
			}

			vm.pc = (vm.pc - InstructionSize) & addrMask
		},
	}

	// fr15	sdelay vr	set the delay timer to vr
	sdelayInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("sdelay v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.delayTimer = vm.registers[in.X()]
		},
	}

	// fr18	ssound vr	set the sound timer to vr
	ssoundInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("ssound v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.soundTimer = vm.registers[in.X()]
		},
	}

	// fr1e	adi vr	add register vr to the index register
	adiInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("adi v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			vm.index = (vm.index + uint16(vm.registers[in.X()])) & addrMask
		},
	}

	// fr29	font vr	point I to the sprite for hexadecimal character in vr	Sprite is 5 bytes high
	fontInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("font v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			digit := uint16(vm.registers[in.X()] & 0x0F)
			vm.index = FontStart + digit*FontGlyphHeight
		},
	}

	// fr33	bcd vr	store the bcd representation of register vr at location I,I+1,I+2	Doesn't change I
	bcdInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("bcd v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			x := vm.registers[in.X()]

			vm.memory[vm.index] = x / 100
			vm.memory[(vm.index+1)&addrMask] = (x / 10) % 10
			vm.memory[(vm.index+2)&addrMask] = x % 10
		},
	}

	// fr55	str v0-vr	store registers v0-vr at location I onwards	Doesn't change I
	strInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("str v0-v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			n := uint16(in.X())

			for i := uint16(0); i <= n; i++ {
				vm.memory[(vm.index+i)&addrMask] = vm.registers[i]
			}
		},
	}

	// fx65	ldr v0-vr	load registers v0-vr from location I onwards	Doesn't change I
	ldrInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("ldr v0-v%x", in.X())
		},
		Execute: func(vm *VM, in Instruction) {
			n := uint16(in.X())

			for i := uint16(0); i <= n; i++ {
				vm.registers[i] = vm.memory[(vm.index+i)&addrMask]
			}
		},
	}

	unknownInstruction = instruction{
		Name: func(in Instruction) string {
			return fmt.Sprintf("unknown 0x%04X", uint16(in))
		},
		Execute: func(vm *VM, in Instruction) {
			if vm.onUnknown != nil {
				vm.onUnknown((vm.pc-InstructionSize)&addrMask, in)
			}
		},
	}
)
