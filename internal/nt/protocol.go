package nt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/frc-grafana/nt-bridge/internal/entry"
	apperrors "github.com/frc-grafana/nt-bridge/internal/pkg/errors"
)

// ProtocolRevision is the NetworkTables revision this client speaks (3.0).
const ProtocolRevision uint16 = 0x0300

// Message type bytes.
const (
	msgKeepAlive           byte = 0x00
	msgClientHello         byte = 0x01
	msgProtoUnsupported    byte = 0x02
	msgServerHelloComplete byte = 0x03
	msgServerHello         byte = 0x04
	msgClientHelloComplete byte = 0x05
	msgEntryAssignment     byte = 0x10
	msgEntryUpdate         byte = 0x11
	msgFlagsUpdate         byte = 0x12
	msgEntryDelete         byte = 0x13
	msgClearAll            byte = 0x14
	msgRPCExecute          byte = 0x20
	msgRPCResponse         byte = 0x21
)

// clearAllMagic must accompany a clear-all message or it is ignored.
const clearAllMagic uint32 = 0xD06CB27A

// maxBlobLen bounds any length-prefixed string or raw value.
const maxBlobLen = 1 << 20

// message is a decoded server message. Only the fields relevant to typ are set.
type message struct {
	typ byte

	name  string
	id    uint16
	seq   uint16
	flags entry.Flags
	value entry.Value

	revision uint16 // proto unsupported
	magic    uint32 // clear all
	identity string // server hello
}

// decoder reads NT3 primitives from a buffered stream.
type decoder struct {
	r   *bufio.Reader
	buf [8]byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReader(r)}
}

func (d *decoder) readByte() (byte, error) {
	return d.r.ReadByte()
}

func (d *decoder) readUint16() (uint16, error) {
	if _, err := io.ReadFull(d.r, d.buf[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d.buf[:2]), nil
}

func (d *decoder) readUint32() (uint32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d.buf[:4]), nil
}

func (d *decoder) readFloat64() (float64, error) {
	if _, err := io.ReadFull(d.r, d.buf[:8]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(d.buf[:8])), nil
}

func (d *decoder) readULEB128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, apperrors.ProtocolError("uleb128 overflow")
		}
	}
}

func (d *decoder) readBlob() ([]byte, error) {
	n, err := d.readULEB128()
	if err != nil {
		return nil, err
	}
	if n > maxBlobLen {
		return nil, apperrors.ProtocolError(fmt.Sprintf("length %d exceeds limit", n))
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (d *decoder) readString() (string, error) {
	b, err := d.readBlob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) readValue(t entry.Type) (entry.Value, error) {
	switch t {
	case entry.TypeBoolean:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return entry.Boolean(b != 0), nil
	case entry.TypeDouble:
		f, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		return entry.Double(f), nil
	case entry.TypeString:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		return entry.String(s), nil
	case entry.TypeRaw:
		b, err := d.readBlob()
		if err != nil {
			return nil, err
		}
		return entry.Raw(b), nil
	case entry.TypeRPCDefinition:
		b, err := d.readBlob()
		if err != nil {
			return nil, err
		}
		return entry.Unsupported{Tag: t, Data: b}, nil
	case entry.TypeBooleanArray:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		arr := make(entry.BooleanArray, n)
		for i := range arr {
			b, err := d.readByte()
			if err != nil {
				return nil, err
			}
			arr[i] = b != 0
		}
		return arr, nil
	case entry.TypeDoubleArray:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		arr := make(entry.DoubleArray, n)
		for i := range arr {
			if arr[i], err = d.readFloat64(); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case entry.TypeStringArray:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		arr := make(entry.StringArray, n)
		for i := range arr {
			if arr[i], err = d.readString(); err != nil {
				return nil, err
			}
		}
		return arr, nil
	default:
		// Unknown tags carry no length, so the stream cannot be resynchronised.
		return nil, apperrors.ProtocolError(fmt.Sprintf("unknown value type 0x%02x", byte(t)))
	}
}

// readMessage decodes the next message from the stream.
func (d *decoder) readMessage() (message, error) {
	typ, err := d.readByte()
	if err != nil {
		return message{}, err
	}
	m := message{typ: typ}

	switch typ {
	case msgKeepAlive, msgServerHelloComplete, msgClientHelloComplete:
		return m, nil

	case msgProtoUnsupported:
		m.revision, err = d.readUint16()
		return m, err

	case msgServerHello:
		flags, err := d.readByte()
		if err != nil {
			return m, err
		}
		m.flags = entry.Flags(flags)
		m.identity, err = d.readString()
		return m, err

	case msgClientHello:
		if m.revision, err = d.readUint16(); err != nil {
			return m, err
		}
		m.identity, err = d.readString()
		return m, err

	case msgEntryAssignment:
		if m.name, err = d.readString(); err != nil {
			return m, err
		}
		t, err := d.readByte()
		if err != nil {
			return m, err
		}
		if m.id, err = d.readUint16(); err != nil {
			return m, err
		}
		if m.seq, err = d.readUint16(); err != nil {
			return m, err
		}
		flags, err := d.readByte()
		if err != nil {
			return m, err
		}
		m.flags = entry.Flags(flags)
		m.value, err = d.readValue(entry.Type(t))
		return m, err

	case msgEntryUpdate:
		if m.id, err = d.readUint16(); err != nil {
			return m, err
		}
		if m.seq, err = d.readUint16(); err != nil {
			return m, err
		}
		t, err := d.readByte()
		if err != nil {
			return m, err
		}
		m.value, err = d.readValue(entry.Type(t))
		return m, err

	case msgFlagsUpdate:
		if m.id, err = d.readUint16(); err != nil {
			return m, err
		}
		flags, err := d.readByte()
		m.flags = entry.Flags(flags)
		return m, err

	case msgEntryDelete:
		m.id, err = d.readUint16()
		return m, err

	case msgClearAll:
		m.magic, err = d.readUint32()
		return m, err

	case msgRPCExecute, msgRPCResponse:
		if m.id, err = d.readUint16(); err != nil {
			return m, err
		}
		if _, err = d.readUint16(); err != nil {
			return m, err
		}
		_, err = d.readBlob()
		return m, err

	default:
		return m, apperrors.ProtocolError(fmt.Sprintf("unknown message type 0x%02x", typ))
	}
}

func appendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func appendULEB128(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

func appendString(b []byte, s string) []byte {
	b = appendULEB128(b, uint64(len(s)))
	return append(b, s...)
}

func clientHello(identity string) []byte {
	b := []byte{msgClientHello}
	b = appendUint16(b, ProtocolRevision)
	return appendString(b, identity)
}
