package discover

import (
	"bytes"
	"encoding/gob"
)

// Message is a decoded application RPC. Responses echo the id of the
// request they answer; request ids are chosen by the application and are
// unique per peer over the pending window.
type Message struct {
	ID         RequestID
	IsResponse bool
	Data       []byte
}

// encodeMessage and decodeMessage stand in for the application's own RPC
// codec, which this module treats as out of scope; gob keeps the
// reference path trivial.
func encodeMessage(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMessage(b []byte) (*Message, error) {
	m := new(Message)
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(m); err != nil {
		return nil, err
	}
	return m, nil
}
