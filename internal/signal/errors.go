package signal

import "errors"

var (
	// ErrInvalidPeer rejects a frame addressed to nobody or to the sender.
	ErrInvalidPeer = errors.New("signaling target must be another participant")

	// ErrPeerOffline reports a frame for a peer with no live connection.
	ErrPeerOffline = errors.New("signaling peer is not connected")
)
