package discover

import "github.com/ndxnet/discv5/enode"

// pendingMessages is a per-peer ordered queue of request messages buffered
// until a trusted session exists.
type pendingMessages struct {
	byPeer map[enode.ID][]*Message
}

func newPendingMessages() *pendingMessages {
	return &pendingMessages{byPeer: make(map[enode.ID][]*Message)}
}

// push enqueues msg at the tail of id's queue, preserving FIFO order.
func (p *pendingMessages) push(id enode.ID, msg *Message) {
	p.byPeer[id] = append(p.byPeer[id], msg)
}

// pushFront re-queues msg at the head, used when a handshake attempt that
// consumed it fails cryptographically and must be retried ahead of
// whatever else is waiting.
func (p *pendingMessages) pushFront(id enode.ID, msg *Message) {
	p.byPeer[id] = append([]*Message{msg}, p.byPeer[id]...)
}

// popFront removes and returns the head of id's queue, or nil if empty.
func (p *pendingMessages) popFront(id enode.ID) *Message {
	q := p.byPeer[id]
	if len(q) == 0 {
		return nil
	}
	msg := q[0]
	if len(q) == 1 {
		delete(p.byPeer, id)
	} else {
		p.byPeer[id] = q[1:]
	}
	return msg
}

// drain removes and returns every message queued for id, used when a
// session is dropped and its buffered work must fail.
func (p *pendingMessages) drain(id enode.ID) []*Message {
	q := p.byPeer[id]
	delete(p.byPeer, id)
	return q
}

func (p *pendingMessages) clear() {
	p.byPeer = make(map[enode.ID][]*Message)
}
