package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// ToWatermill copies m into the metadata of a watermill message.
func ToWatermill(m Metadata) message.Metadata {
	wm := make(message.Metadata, len(m))
	for k, v := range m {
		wm[k] = v
	}
	return wm
}
