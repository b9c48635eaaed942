// Package wire provides the JSON envelope codec for session messages.
// The byte format is a transport concern; the layers above only rely on
// the logical schema surviving a round trip.
package wire
