//go:build !linux

package devices

import "github.com/pion/mediadevices"

// NewCodecSelector returns nil: capture drivers and encoders are only wired
// on Linux. Peer connections then fall back to the default codecs.
func NewCodecSelector(int) (*mediadevices.CodecSelector, error) {
	return nil, nil
}
