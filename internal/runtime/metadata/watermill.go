package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill copies bus message metadata. The result is never nil.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	maps.Copy(out, md)
	return out
}

// ToWatermill copies m into a bus message metadata map. The result is never nil.
func (m Metadata) ToWatermill() message.Metadata {
	out := make(message.Metadata, len(m))
	maps.Copy(out, m)
	return out
}
