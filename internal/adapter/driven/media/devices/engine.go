package devices

import (
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// MediaEngineSetup registers the selector's codecs on a media engine, or
// pion's defaults when there is no selector.
func MediaEngineSetup(selector *mediadevices.CodecSelector) func(*webrtc.MediaEngine) error {
	return func(m *webrtc.MediaEngine) error {
		if selector == nil {
			return m.RegisterDefaultCodecs()
		}
		selector.Populate(m)
		return nil
	}
}
