// Package transport moves wire envelopes between peers over WebSocket
// connections. It is deliberately unreliable from the protocol's point of
// view: the causal machinery above tolerates anything the network does.
package transport
