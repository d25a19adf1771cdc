package nt

import (
	"bytes"
	"encoding/binary"
	"math"
	"reflect"
	"testing"

	"github.com/frc-grafana/nt-bridge/internal/entry"
	apperrors "github.com/frc-grafana/nt-bridge/internal/pkg/errors"
)

// Encoders for the server side of the protocol, used by the fake server.

func appendValue(b []byte, v entry.Value) []byte {
	switch v := v.(type) {
	case entry.Boolean:
		if v {
			return append(b, 1)
		}
		return append(b, 0)
	case entry.Double:
		return binary.BigEndian.AppendUint64(b, math.Float64bits(float64(v)))
	case entry.String:
		return appendString(b, string(v))
	case entry.Raw:
		b = appendULEB128(b, uint64(len(v)))
		return append(b, v...)
	case entry.BooleanArray:
		b = append(b, byte(len(v)))
		for _, x := range v {
			b = appendValue(b, entry.Boolean(x))
		}
		return b
	case entry.DoubleArray:
		b = append(b, byte(len(v)))
		for _, x := range v {
			b = appendValue(b, entry.Double(x))
		}
		return b
	case entry.StringArray:
		b = append(b, byte(len(v)))
		for _, x := range v {
			b = appendString(b, x)
		}
		return b
	case entry.Unsupported:
		b = appendULEB128(b, uint64(len(v.Data)))
		return append(b, v.Data...)
	}
	panic("unhandled value")
}

func assignmentMsg(name string, id uint16, v entry.Value) []byte {
	b := []byte{msgEntryAssignment}
	b = appendString(b, name)
	b = append(b, byte(v.Type()))
	b = appendUint16(b, id)
	b = appendUint16(b, 1)
	b = append(b, 0)
	return appendValue(b, v)
}

func updateMsg(id, seq uint16, v entry.Value) []byte {
	b := []byte{msgEntryUpdate}
	b = appendUint16(b, id)
	b = appendUint16(b, seq)
	b = append(b, byte(v.Type()))
	return appendValue(b, v)
}

func TestULEB128(t *testing.T) {
	tests := []uint64{0, 1, 127, 128, 300, 16383, 16384, 1 << 20}

	for _, v := range tests {
		enc := appendULEB128(nil, v)
		got, err := newDecoder(bytes.NewReader(enc)).readULEB128()
		if err != nil {
			t.Fatalf("readULEB128(%v) error = %v", enc, err)
		}
		if got != v {
			t.Errorf("uleb128 round trip %d = %d", v, got)
		}
	}

	if enc := appendULEB128(nil, 300); !bytes.Equal(enc, []byte{0xac, 0x02}) {
		t.Errorf("appendULEB128(300) = %x, want ac02", enc)
	}
}

func TestReadValue(t *testing.T) {
	tests := []struct {
		name  string
		value entry.Value
	}{
		{"boolean", entry.Boolean(true)},
		{"double", entry.Double(-12.25)},
		{"string", entry.String("hello")},
		{"raw", entry.Raw{0xde, 0xad}},
		{"boolean array", entry.BooleanArray{true, false, true}},
		{"double array", entry.DoubleArray{1.5, 2.5}},
		{"string array", entry.StringArray{"a", "bc"}},
		{"rpc definition", entry.Unsupported{Tag: entry.TypeRPCDefinition, Data: []byte{1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := appendValue(nil, tt.value)
			got, err := newDecoder(bytes.NewReader(enc)).readValue(tt.value.Type())
			if err != nil {
				t.Fatalf("readValue() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("readValue() = %#v, want %#v", got, tt.value)
			}
		})
	}
}

func TestReadValue_UnknownType(t *testing.T) {
	_, err := newDecoder(bytes.NewReader([]byte{0})).readValue(entry.Type(0x7e))
	if !apperrors.HasCode(err, apperrors.CodeProtocol) {
		t.Errorf("readValue(unknown) error = %v, want protocol error", err)
	}
}

func TestReadBlob_TooLong(t *testing.T) {
	enc := appendULEB128(nil, maxBlobLen+1)
	_, err := newDecoder(bytes.NewReader(enc)).readBlob()
	if !apperrors.HasCode(err, apperrors.CodeProtocol) {
		t.Errorf("readBlob() error = %v, want protocol error", err)
	}
}

func TestReadMessage(t *testing.T) {
	var stream []byte
	stream = append(stream, assignmentMsg("SmartDashboard/Angle", 7, entry.Double(42.5))...)
	stream = append(stream, updateMsg(7, 2, entry.Double(43))...)
	stream = append(stream, msgFlagsUpdate, 0, 7, byte(entry.FlagPersistent))
	stream = append(stream, msgEntryDelete, 0, 7)
	stream = binary.BigEndian.AppendUint32(append(stream, msgClearAll), clearAllMagic)
	stream = append(stream, msgRPCExecute, 0, 1, 0, 2, 2, 0xaa, 0xbb)
	stream = append(stream, msgKeepAlive)

	dec := newDecoder(bytes.NewReader(stream))

	m, err := dec.readMessage()
	if err != nil {
		t.Fatalf("assignment: %v", err)
	}
	if m.typ != msgEntryAssignment || m.name != "SmartDashboard/Angle" || m.id != 7 || m.value != entry.Double(42.5) {
		t.Errorf("assignment = %+v", m)
	}

	m, err = dec.readMessage()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.typ != msgEntryUpdate || m.id != 7 || m.seq != 2 || m.value != entry.Double(43) {
		t.Errorf("update = %+v", m)
	}

	m, err = dec.readMessage()
	if err != nil || m.typ != msgFlagsUpdate || !m.flags.Persistent() {
		t.Errorf("flags update = %+v, %v", m, err)
	}

	m, err = dec.readMessage()
	if err != nil || m.typ != msgEntryDelete || m.id != 7 {
		t.Errorf("delete = %+v, %v", m, err)
	}

	m, err = dec.readMessage()
	if err != nil || m.typ != msgClearAll || m.magic != clearAllMagic {
		t.Errorf("clear all = %+v, %v", m, err)
	}

	m, err = dec.readMessage()
	if err != nil || m.typ != msgRPCExecute {
		t.Errorf("rpc = %+v, %v", m, err)
	}

	m, err = dec.readMessage()
	if err != nil || m.typ != msgKeepAlive {
		t.Errorf("keep alive = %+v, %v", m, err)
	}
}

func TestReadMessage_UnknownType(t *testing.T) {
	_, err := newDecoder(bytes.NewReader([]byte{0x7f})).readMessage()
	if !apperrors.HasCode(err, apperrors.CodeProtocol) {
		t.Errorf("readMessage() error = %v, want protocol error", err)
	}
}

func TestClientHello(t *testing.T) {
	m, err := newDecoder(bytes.NewReader(clientHello("grafana-mqtt"))).readMessage()
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if m.typ != msgClientHello || m.revision != ProtocolRevision || m.identity != "grafana-mqtt" {
		t.Errorf("client hello = %+v", m)
	}
}
