// Package container serializes compiled units to the .nxb binary
// artifact format and loads them back without re-parsing source.
//
// Layout (all integers big-endian):
//
//	offset 0   magic "NXBC" (4 bytes)
//	offset 4   format version (uint32)
//	offset 8   code offset / length (uint32 pair)
//	offset 16  constant pool offset / length (uint32 pair)
//	offset 24  symbol table offset / length (uint32 pair)
//	offset 32  sections, in header order, then metadata (JSON) to EOF
package container

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"nexuslang/internal/bytecode"
	"nexuslang/internal/errors"
)

const (
	// Magic identifies a .nxb artifact. Checked before anything else.
	Magic = "NXBC"

	// FormatVersion is bumped whenever the layout changes.
	FormatVersion uint32 = 1

	headerSize = 32
)

const (
	tagInt byte = iota
	tagFloat
	tagString
	tagUnit
)

// Serialize packs a compiled unit into the .nxb wire format. The output
// is a pure function of the unit: serializing the same unit twice yields
// byte-identical artifacts.
func Serialize(unit *bytecode.CompiledUnit) ([]byte, error) {
	code := unit.Code

	consts, err := serializeConstants(unit.Constants)
	if err != nil {
		return nil, err
	}
	symbols := serializeSymbols(unit.Symbols)

	meta, err := serializeMetadata(unit)
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(code)+len(consts)+len(symbols)+len(meta)))
	buf.WriteString(Magic)
	writeU32(buf, FormatVersion)

	offset := uint32(headerSize)
	writeU32(buf, offset)
	writeU32(buf, uint32(len(code)))
	offset += uint32(len(code))
	writeU32(buf, offset)
	writeU32(buf, uint32(len(consts)))
	offset += uint32(len(consts))
	writeU32(buf, offset)
	writeU32(buf, uint32(len(symbols)))

	buf.Write(code)
	buf.Write(consts)
	buf.Write(symbols)
	buf.Write(meta)
	return buf.Bytes(), nil
}

// Deserialize reconstructs a compiled unit from .nxb bytes. The magic
// and version are validated before any section is touched, and every
// header offset/length pair is bounds-checked against the buffer.
func Deserialize(data []byte) (*bytecode.CompiledUnit, error) {
	if len(data) < len(Magic) || string(data[:len(Magic)]) != Magic {
		return nil, errors.NewFormatError(errors.BadMagic,
			"not a .nxb artifact: bad magic")
	}
	if len(data) < headerSize {
		return nil, errors.NewFormatError(errors.TruncatedSection,
			fmt.Sprintf("artifact header truncated: %d bytes", len(data)))
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != FormatVersion {
		return nil, errors.NewFormatError(errors.UnsupportedVersion,
			fmt.Sprintf("unsupported format version %d (supported: %d)", v, FormatVersion))
	}

	code, err := section(data, 8, "code")
	if err != nil {
		return nil, err
	}
	constBytes, err := section(data, 16, "constant pool")
	if err != nil {
		return nil, err
	}
	symBytes, err := section(data, 24, "symbol table")
	if err != nil {
		return nil, err
	}

	unit := &bytecode.CompiledUnit{Code: append([]byte(nil), code...)}

	if unit.Constants, err = deserializeConstants(constBytes); err != nil {
		return nil, err
	}
	if unit.Symbols, err = deserializeSymbols(symBytes); err != nil {
		return nil, err
	}

	// Metadata runs from the end of the symbol table to EOF.
	symOff := binary.BigEndian.Uint32(data[24:28])
	symLen := binary.BigEndian.Uint32(data[28:32])
	meta := data[symOff+symLen:]
	if err := deserializeMetadata(meta, unit); err != nil {
		return nil, err
	}
	return unit, nil
}

func section(data []byte, headerAt int, name string) ([]byte, error) {
	off := binary.BigEndian.Uint32(data[headerAt : headerAt+4])
	length := binary.BigEndian.Uint32(data[headerAt+4 : headerAt+8])
	end := uint64(off) + uint64(length)
	if uint64(off) < headerSize || end > uint64(len(data)) {
		return nil, errors.NewFormatError(errors.TruncatedSection,
			fmt.Sprintf("%s section [%d:%d] exceeds artifact of %d bytes", name, off, end, len(data)))
	}
	return data[off:end], nil
}

func serializeConstants(constants []bytecode.Constant) ([]byte, error) {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(constants)))
	for _, c := range constants {
		switch c.Kind {
		case bytecode.ConstInt:
			buf.WriteByte(tagInt)
			writeU64(&buf, uint64(c.Int))
		case bytecode.ConstFloat:
			buf.WriteByte(tagFloat)
			writeU64(&buf, math.Float64bits(c.Float))
		case bytecode.ConstString:
			buf.WriteByte(tagString)
			writeU32(&buf, uint32(len(c.Str)))
			buf.WriteString(c.Str)
		case bytecode.ConstUnit:
			// Function bodies nest as complete artifacts, length-prefixed.
			inner, err := Serialize(c.Unit)
			if err != nil {
				return nil, err
			}
			buf.WriteByte(tagUnit)
			writeU32(&buf, uint32(len(inner)))
			buf.Write(inner)
		default:
			return nil, errors.NewFormatError(errors.InvalidConstant,
				fmt.Sprintf("cannot serialize constant kind %d", c.Kind))
		}
	}
	return buf.Bytes(), nil
}

func deserializeConstants(data []byte) ([]bytecode.Constant, error) {
	r := &reader{data: data}
	count := r.u32()
	constants := make([]bytecode.Constant, 0, count)
	for i := uint32(0); i < count; i++ {
		tag := r.byte()
		switch tag {
		case tagInt:
			constants = append(constants, bytecode.IntConstant(int64(r.u64())))
		case tagFloat:
			constants = append(constants, bytecode.FloatConstant(math.Float64frombits(r.u64())))
		case tagString:
			constants = append(constants, bytecode.StringConstant(string(r.bytes(int(r.u32())))))
		case tagUnit:
			inner, err := Deserialize(r.bytes(int(r.u32())))
			if err != nil {
				return nil, err
			}
			constants = append(constants, bytecode.UnitConstant(inner))
		default:
			if r.err == nil {
				return nil, errors.NewFormatError(errors.InvalidConstant,
					fmt.Sprintf("constant %d has unknown tag %d", i, tag))
			}
		}
		if r.err != nil {
			return nil, errors.NewFormatError(errors.TruncatedSection,
				fmt.Sprintf("constant pool truncated at entry %d", i))
		}
	}
	return constants, nil
}

func serializeSymbols(symbols []bytecode.Symbol) []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(symbols)))
	for _, s := range symbols {
		writeU16(&buf, uint16(len(s.Name)))
		buf.WriteString(s.Name)
		buf.WriteByte(byte(s.Kind))
		writeU16(&buf, s.Slot)
	}
	return buf.Bytes()
}

func deserializeSymbols(data []byte) ([]bytecode.Symbol, error) {
	r := &reader{data: data}
	count := r.u32()
	symbols := make([]bytecode.Symbol, 0, count)
	for i := uint32(0); i < count; i++ {
		name := string(r.bytes(int(r.u16())))
		kind := bytecode.SymbolKind(r.byte())
		slot := r.u16()
		if r.err != nil {
			return nil, errors.NewFormatError(errors.TruncatedSection,
				fmt.Sprintf("symbol table truncated at entry %d", i))
		}
		symbols = append(symbols, bytecode.Symbol{Name: name, Kind: kind, Slot: slot})
	}
	return symbols, nil
}

func serializeMetadata(unit *bytecode.CompiledUnit) ([]byte, error) {
	meta := map[string]string{
		"name":  unit.Name,
		"arity": fmt.Sprintf("%d", unit.Arity),
	}
	for k, v := range unit.Metadata {
		meta[k] = v
	}
	// json.Marshal sorts map keys, which keeps the artifact deterministic.
	out, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.NewFormatError(errors.TruncatedSection,
			fmt.Sprintf("cannot encode metadata: %v", err))
	}
	return out, nil
}

func deserializeMetadata(data []byte, unit *bytecode.CompiledUnit) error {
	meta := map[string]string{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return errors.NewFormatError(errors.TruncatedSection,
			fmt.Sprintf("metadata section is not valid JSON: %v", err))
	}
	unit.Name = meta["name"]
	if _, err := fmt.Sscanf(meta["arity"], "%d", &unit.Arity); err != nil && meta["arity"] != "" {
		return errors.NewFormatError(errors.TruncatedSection,
			fmt.Sprintf("metadata arity %q is not numeric", meta["arity"]))
	}
	delete(meta, "name")
	delete(meta, "arity")
	if len(meta) > 0 {
		unit.Metadata = meta
	}
	return nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// reader is a cursor over a section that records the first overrun
// instead of panicking, so callers can check once per entry.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || n < 0 || r.pos+n > len(r.data) {
		if r.err == nil {
			r.err = fmt.Errorf("read past end of section")
		}
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) byte() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
