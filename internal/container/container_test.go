package container

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"nexuslang/internal/bytecode"
	"nexuslang/internal/errors"
)

func sampleUnit() *bytecode.CompiledUnit {
	inner := &bytecode.CompiledUnit{Name: "greet", Arity: 1}
	inner.WriteOp(bytecode.OpGetLocal)
	inner.WriteU8(0)
	inner.WriteOp(bytecode.OpReturn)
	inner.AddSymbol("name", bytecode.SymLocal, 0)

	unit := &bytecode.CompiledUnit{Name: "main"}
	unit.AddConstant(bytecode.IntConstant(42))
	unit.AddConstant(bytecode.FloatConstant(0.8))
	unit.AddConstant(bytecode.StringConstant("curiosity"))
	unit.AddConstant(bytecode.UnitConstant(inner))
	unit.WriteOp(bytecode.OpConstant)
	unit.WriteShort(0)
	unit.WriteOp(bytecode.OpPrint)
	unit.WriteOp(bytecode.OpReturn)
	unit.AddSymbol("greet", bytecode.SymFunction, 0)
	unit.Metadata = map[string]string{"compiler_version": "1.0.0"}
	return unit
}

func TestRoundTrip(t *testing.T) {
	unit := sampleUnit()

	data, err := Serialize(unit)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(unit, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripIsByteStable(t *testing.T) {
	unit := sampleUnit()

	first, err := Serialize(unit)
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := Deserialize(first)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Serialize(reloaded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("re-serializing a deserialized unit changed the bytes")
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	// Metadata is a map; the encoder must not leak iteration order.
	unit := sampleUnit()
	unit.Metadata = map[string]string{
		"compiler_version": "1.0.0",
		"build_id":         "a-b-c",
		"zz":               "last",
		"aa":               "first",
	}
	a, err := Serialize(unit)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		b, err := Serialize(unit)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Fatal("serialization is order-dependent")
		}
	}
}

func TestEmptyUnit(t *testing.T) {
	unit := &bytecode.CompiledUnit{Name: "main"}
	unit.WriteOp(bytecode.OpReturn)

	data, err := Serialize(unit)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Code) != 1 || bytecode.OpCode(got.Code[0]) != bytecode.OpReturn {
		t.Errorf("empty unit code survived as %v", got.Code)
	}
	if len(got.Constants) != 0 || len(got.Symbols) != 0 {
		t.Errorf("empty unit grew sections: %d constants, %d symbols",
			len(got.Constants), len(got.Symbols))
	}
}

func TestBadMagic(t *testing.T) {
	data, err := Serialize(sampleUnit())
	if err != nil {
		t.Fatal(err)
	}
	copy(data[:4], "WASM")

	_, err = Deserialize(data)
	if !errors.IsKind(err, errors.BadMagic) {
		t.Errorf("expected BadMagic, got %v", err)
	}
}

func TestMagicCheckedBeforeSections(t *testing.T) {
	// Shorter than a header and wrong magic: the magic error must win,
	// proving no section is read first.
	_, err := Deserialize([]byte("JUNK"))
	if !errors.IsKind(err, errors.BadMagic) {
		t.Errorf("expected BadMagic on 4 junk bytes, got %v", err)
	}
}

func TestUnsupportedVersion(t *testing.T) {
	data, err := Serialize(sampleUnit())
	if err != nil {
		t.Fatal(err)
	}
	binary.BigEndian.PutUint32(data[4:8], 99)

	_, err = Deserialize(data)
	if !errors.IsKind(err, errors.UnsupportedVersion) {
		t.Errorf("expected UnsupportedVersion, got %v", err)
	}
}

func TestTruncatedArtifact(t *testing.T) {
	data, err := Serialize(sampleUnit())
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		cut  int
	}{
		{"inside header", 20},
		{"inside code section", 34},
		{"inside constant pool", len(data) / 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Deserialize(data[:tc.cut])
			if err == nil {
				t.Fatal("truncated artifact deserialized without error")
			}
			if !errors.IsKind(err, errors.TruncatedSection) {
				t.Errorf("expected TruncatedSection, got %v", err)
			}
		})
	}
}

func TestHeaderOffsetsOutOfRange(t *testing.T) {
	data, err := Serialize(sampleUnit())
	if err != nil {
		t.Fatal(err)
	}
	// Point the constant pool past EOF.
	binary.BigEndian.PutUint32(data[16:20], uint32(len(data)))
	binary.BigEndian.PutUint32(data[20:24], 1024)

	_, err = Deserialize(data)
	if !errors.IsKind(err, errors.TruncatedSection) {
		t.Errorf("expected TruncatedSection for rogue offsets, got %v", err)
	}
}

func TestMetadataSurvivesRoundTrip(t *testing.T) {
	unit := sampleUnit()
	unit.Metadata = map[string]string{
		"compiler_version": "1.0.0",
		"created_at":       "2026-08-28T10:00:00Z",
	}
	data, err := Serialize(unit)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata["created_at"] != unit.Metadata["created_at"] {
		t.Errorf("metadata lost: %v", got.Metadata)
	}
	if got.Name != "main" {
		t.Errorf("unit name lost: %q", got.Name)
	}
}

func TestNegativeAndSpecialConstants(t *testing.T) {
	unit := &bytecode.CompiledUnit{Name: "main"}
	unit.Constants = []bytecode.Constant{
		bytecode.IntConstant(-1),
		bytecode.IntConstant(1<<63 - 1),
		bytecode.FloatConstant(-0.0),
		bytecode.FloatConstant(0.0),
	}
	unit.WriteOp(bytecode.OpReturn)

	data, err := Serialize(unit)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Constants[0].Int != -1 || got.Constants[1].Int != 1<<63-1 {
		t.Errorf("int constants corrupted: %v", got.Constants[:2])
	}
	second, err := Serialize(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, second) {
		t.Error("signed zero distinction lost in round trip")
	}
}
