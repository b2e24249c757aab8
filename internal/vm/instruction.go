package vm

// Instruction is a raw 16-bit CHIP-8 instruction word.
// The same bits are read differently depending on the opcode family,
// so fields are extracted on demand and never cached.
type Instruction uint16

// Opcode returns the leading nibble that selects the opcode family.
func (in Instruction) Opcode() uint8 {
	return uint8((in & 0xF000) >> 12)
}

// X returns the first register index (bits 8-11).
func (in Instruction) X() uint8 {
	return uint8((in & 0x0F00) >> 8)
}

// Y returns the second register index (bits 4-7).
func (in Instruction) Y() uint8 {
	return uint8((in & 0x00F0) >> 4)
}

// N returns the 4-bit immediate (bits 0-3).
func (in Instruction) N() uint8 {
	return uint8(in & 0x000F)
}

// NN returns the 8-bit immediate (bits 0-7).
func (in Instruction) NN() uint8 {
	return uint8(in & 0x00FF)
}

// NNN returns the 12-bit address (bits 0-11).
func (in Instruction) NNN() uint16 {
	return uint16(in & 0x0FFF)
}

// String returns the mnemonic of the instruction.
func (in Instruction) String() string {
	return decode(in).Name(in)
}
