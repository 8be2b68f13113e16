package discover

import "errors"

// Usage errors, returned synchronously to callers.
var (
	// ErrSessionNotReady is returned by sendRequest when a session exists
	// but has not yet reached Established.
	ErrSessionNotReady = errors.New("discover: session not ready")
	// ErrUntrustedPeer is returned by sendRequest when the session is
	// Established but has not yet passed the trust gate.
	ErrUntrustedPeer = errors.New("discover: untrusted peer")
	// ErrNoSession is returned by operations that require an existing
	// session (sendRequestUnknownEnr, sendResponse) when none exists.
	ErrNoSession = errors.New("discover: no session")
	// ErrClosed is returned by operations attempted after Stop.
	ErrClosed = errors.New("discover: service closed")
)
