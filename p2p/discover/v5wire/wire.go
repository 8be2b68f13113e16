package v5wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Marshal serializes a Packet to bytes: one kind byte followed by a gob
// encoding of the concrete struct. The real discv5 wire byte layout is an
// external collaborator this module treats opaquely; gob keeps this
// reference packet codec self-contained without speaking for that layout.
func Marshal(p Packet) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Kind()))
	enc := gob.NewEncoder(&buf)

	var err error
	switch pp := p.(type) {
	case *Random:
		err = enc.Encode(pp)
	case *Whoareyou:
		err = enc.Encode(pp)
	case *Handshake:
		err = enc.Encode(pp)
	case *Message:
		err = enc.Encode(pp)
	default:
		return nil, fmt.Errorf("v5wire: unknown packet type %T", p)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses bytes produced by Marshal back into a concrete Packet.
func Unmarshal(b []byte) (Packet, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("v5wire: empty packet")
	}
	kind := PacketKind(b[0])
	dec := gob.NewDecoder(bytes.NewReader(b[1:]))

	switch kind {
	case RandomPacket:
		p := new(Random)
		if err := dec.Decode(p); err != nil {
			return nil, err
		}
		return p, nil
	case WhoareyouPacket:
		p := new(Whoareyou)
		if err := dec.Decode(p); err != nil {
			return nil, err
		}
		return p, nil
	case HandshakePacket:
		p := new(Handshake)
		if err := dec.Decode(p); err != nil {
			return nil, err
		}
		return p, nil
	case MessagePacket:
		p := new(Message)
		if err := dec.Decode(p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("v5wire: unknown packet kind %d", kind)
	}
}
