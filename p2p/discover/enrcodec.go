package discover

import (
	"bytes"
	"encoding/gob"
	"net/netip"

	"github.com/ndxnet/discv5/enode"
)

// enrRecord is a gob-encoded stand-in for the real ENR wire format (signed,
// RLP-encoded), which this module treats as out of scope. It carries
// exactly the fields the handshake consumes: id, seq, public key and UDP
// endpoint.
// AuthResponse.Record and the WHOAREYOU enrSeq comparison both operate on
// this encoding.
type enrRecord struct {
	ID       enode.ID
	Seq      uint64
	PubKey   []byte
	Endpoint string
}

func encodeENR(n *enode.Node) ([]byte, error) {
	rec := enrRecord{
		ID:       n.ID(),
		Seq:      n.Seq(),
		PubKey:   n.PublicKey(),
		Endpoint: n.UDPEndpoint().String(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeENR(b []byte) (*enode.Node, error) {
	var rec enrRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return nil, err
	}
	addr, err := netip.ParseAddrPort(rec.Endpoint)
	if err != nil {
		return nil, err
	}
	return enode.NewNode(rec.ID, rec.Seq, rec.PubKey, addr), nil
}
