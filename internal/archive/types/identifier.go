package types

import (
	"fmt"
	"strings"
)

// Identifier names a telemetry category handled by one store.
type Identifier int

const (
	// ChannelValue holds flight channel samples.
	ChannelValue Identifier = iota
	// HeaderChannelValue holds channel samples derived from packet and frame headers.
	HeaderChannelValue
	// MonitorChannelValue holds ground station monitor channel samples.
	MonitorChannelValue
	// SseChannelValue holds channel samples from simulation and support equipment.
	SseChannelValue

	// ChannelAggregate holds windowed statistics over flight channel samples.
	ChannelAggregate
	HeaderChannelAggregate
	MonitorChannelAggregate
	SseChannelAggregate

	// Evr holds flight event records.
	Evr
	// SseEvr holds support equipment event records.
	SseEvr

	// Packet holds flight telemetry packets.
	Packet
	// SsePacket holds support equipment packets.
	SsePacket

	// Frame holds transfer frames.
	Frame

	// CommandMessage holds uplinked command requests and their status.
	CommandMessage

	// LogMessage holds operator visible log messages.
	LogMessage

	// Product holds assembled data product metadata.
	Product

	// CfdpIndication holds CFDP transaction indications.
	CfdpIndication
	// CfdpPdu holds sent and received CFDP protocol data units.
	CfdpPdu

	identifierCount
)

var identifierNames = [identifierCount]string{
	ChannelValue:            "channel_value",
	HeaderChannelValue:      "header_channel_value",
	MonitorChannelValue:     "monitor_channel_value",
	SseChannelValue:         "sse_channel_value",
	ChannelAggregate:        "channel_aggregate",
	HeaderChannelAggregate:  "header_channel_aggregate",
	MonitorChannelAggregate: "monitor_channel_aggregate",
	SseChannelAggregate:     "sse_channel_aggregate",
	Evr:                     "evr",
	SseEvr:                  "sse_evr",
	Packet:                  "packet",
	SsePacket:               "sse_packet",
	Frame:                   "frame",
	CommandMessage:          "command_message",
	LogMessage:              "log_message",
	Product:                 "product",
	CfdpIndication:          "cfdp_indication",
	CfdpPdu:                 "cfdp_pdu",
}

// String returns the configuration name of the identifier.
func (id Identifier) String() string {
	if id.Valid() {
		return identifierNames[id]
	}
	return fmt.Sprintf("unknown(%d)", int(id))
}

// Valid reports whether id is a known identifier.
func (id Identifier) Valid() bool {
	return id >= 0 && id < identifierCount
}

// ParseIdentifier converts a configuration name into an Identifier.
// Matching ignores case and treats '-' like '_'.
func ParseIdentifier(s string) (Identifier, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range identifierNames {
		if name == norm {
			return Identifier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown store identifier %q", s)
}

// AllIdentifiers returns every identifier in declaration order.
func AllIdentifiers() []Identifier {
	ids := make([]Identifier, identifierCount)
	for i := range ids {
		ids[i] = Identifier(i)
	}
	return ids
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("unknown store identifier %d", int(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	v, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// StreamKind selects one of the two output streams of a store.
type StreamKind int

const (
	// StreamValue carries the main rows of a store.
	StreamValue StreamKind = iota
	// StreamMetadata carries the supporting rows of a store.
	StreamMetadata
)

// String returns a human-readable representation of the StreamKind.
func (k StreamKind) String() string {
	switch k {
	case StreamValue:
		return "value"
	case StreamMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}
