package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies the metadata of a Watermill message.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// ToWatermill copies metadata into a Watermill metadata map.
func ToWatermill(md Metadata) message.Metadata {
	return message.Metadata(md.Clone())
}
