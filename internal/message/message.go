// Package message defines the telemetry messages carried on the bus and the
// topics they are published on.
//
// Messages are plain structs. The JSON form is used by the broker bridge;
// in-process publishers pass the structs directly.
package message

import (
	"time"
)

// Topic names. Each topic carries exactly one message type.
const (
	TopicChannelValue        = "tlm.channel.flight"
	TopicHeaderChannelValue  = "tlm.channel.header"
	TopicMonitorChannelValue = "tlm.channel.monitor"
	TopicSseChannelValue     = "tlm.channel.sse"
	TopicEvr                 = "tlm.evr.flight"
	TopicSseEvr              = "tlm.evr.sse"
	TopicPacket              = "tlm.packet.flight"
	TopicSsePacket           = "tlm.packet.sse"
	TopicFrame               = "tlm.frame"
	TopicCommand             = "cmd.message"
	TopicLog                 = "log.message"
	TopicProduct             = "product.assembled"
	TopicCfdpIndication      = "cfdp.indication"
	TopicCfdpPdu             = "cfdp.pdu"
)

// Channel DN types.
const (
	ChannelSignedInt   = "SIGNED_INT"
	ChannelUnsignedInt = "UNSIGNED_INT"
	ChannelDigital     = "DIGITAL"
	ChannelStatus      = "STATUS"
	ChannelFloat       = "FLOAT"
	ChannelBoolean     = "BOOLEAN"
	ChannelASCII       = "ASCII"
	ChannelTime        = "TIME"
)

// SpacecraftClock is a coarse/fine spacecraft clock reading.
type SpacecraftClock struct {
	Coarse uint32 `json:"coarse"`
	Fine   uint32 `json:"fine"`
}

// ChannelValue is one channel sample. The same type is published on the
// flight, header, monitor and SSE channel topics.
//
// The DN lives in exactly one of the typed fields, selected by Type:
// SIGNED_INT and STATUS use DNInt, UNSIGNED_INT, DIGITAL, BOOLEAN and TIME
// use DNUint, FLOAT uses DNFloat, ASCII uses DNString.
type ChannelValue struct {
	ChannelID string `json:"channel_id"`
	Index     int32  `json:"index"`
	Name      string `json:"name"`
	Module    string `json:"module"`
	Type      string `json:"type"`
	DNFormat  string `json:"dn_format,omitempty"`
	EUFormat  string `json:"eu_format,omitempty"`

	DNInt    int64  `json:"dn_int,omitempty"`
	DNUint   uint64 `json:"dn_uint,omitempty"`
	DNFloat  Float  `json:"dn_float,omitempty"`
	DNString string `json:"dn_string,omitempty"`

	// EU is the engineering-unit value, nil when the channel has none.
	EU *Float `json:"eu,omitempty"`

	DNAlarmState string `json:"dn_alarm_state,omitempty"`
	EUAlarmState string `json:"eu_alarm_state,omitempty"`

	ERT      time.Time       `json:"ert"`
	SCET     time.Time       `json:"scet"`
	SCLK     SpacecraftClock `json:"sclk"`
	RCT      time.Time       `json:"rct"`
	VCID     *int32          `json:"vcid,omitempty"`
	DSSID    int32           `json:"dss_id"`
	Realtime bool            `json:"realtime"`
}

// Value returns the DN as a float64 for aggregation. ok is false for
// channel types that have no numeric value.
func (c *ChannelValue) Value() (v float64, ok bool) {
	switch c.Type {
	case ChannelSignedInt, ChannelStatus:
		return float64(c.DNInt), true
	case ChannelUnsignedInt, ChannelDigital, ChannelBoolean, ChannelTime:
		return float64(c.DNUint), true
	case ChannelFloat:
		return float64(c.DNFloat), true
	default:
		return 0, false
	}
}

// KeywordValue is one EVR metadata entry.
type KeywordValue struct {
	Keyword string `json:"keyword"`
	Value   string `json:"value"`
}

// Evr is an event record, published on the flight or SSE EVR topic.
type Evr struct {
	ID       int64           `json:"id"`
	EventID  int64           `json:"event_id"`
	Name     string          `json:"name"`
	Level    string          `json:"level"`
	Module   string          `json:"module"`
	Message  string          `json:"message"`
	Metadata []KeywordValue  `json:"metadata,omitempty"`
	ERT      time.Time       `json:"ert"`
	SCET     time.Time       `json:"scet"`
	SCLK     SpacecraftClock `json:"sclk"`
	RCT      time.Time       `json:"rct"`
	DSSID    int32           `json:"dss_id"`
	VCID     *int32          `json:"vcid,omitempty"`
	Realtime bool            `json:"realtime"`
}

// Packet is a space packet, published on the flight or SSE packet topic.
type Packet struct {
	ID      int64           `json:"id"`
	APID    int32           `json:"apid"`
	SPSC    int32           `json:"spsc"`
	ERT     time.Time       `json:"ert"`
	SCET    time.Time       `json:"scet"`
	SCLK    SpacecraftClock `json:"sclk"`
	RCT     time.Time       `json:"rct"`
	VCID    *int32          `json:"vcid,omitempty"`
	DSSID   int32           `json:"dss_id"`
	FrameID int64           `json:"frame_id"`
	Fill    bool            `json:"fill"`
	Body    []byte          `json:"body"`
}

// Frame is a transfer frame.
type Frame struct {
	ID                int64     `json:"id"`
	Type              string    `json:"type"`
	VCID              int32     `json:"vcid"`
	VCFC              int64     `json:"vcfc"`
	DSSID             int32     `json:"dss_id"`
	ERT               time.Time `json:"ert"`
	RCT               time.Time `json:"rct"`
	RelaySpacecraftID int32     `json:"relay_spacecraft_id"`
	Bad               bool      `json:"bad"`
	BadReason         string    `json:"bad_reason,omitempty"`
	Body              []byte    `json:"body"`
	Trailer           []byte    `json:"trailer,omitempty"`
}

// CommandStatus is one status transition of a command request.
type CommandStatus struct {
	RCT            time.Time `json:"rct"`
	Status         string    `json:"status"`
	FailReason     string    `json:"fail_reason,omitempty"`
	Bit1RadTime    time.Time `json:"bit1_rad_time,omitempty"`
	LastBitRadTime time.Time `json:"last_bit_rad_time,omitempty"`
	DSSID          int32     `json:"dss_id"`
	Final          bool      `json:"final"`
}

// Command is a command request together with its latest status. The
// request row is archived once; every message adds a status row.
type Command struct {
	RequestID     string        `json:"request_id"`
	Message       string        `json:"message"`
	Type          string        `json:"type"`
	OriginalFile  string        `json:"original_file,omitempty"`
	ScmfFile      string        `json:"scmf_file,omitempty"`
	CommandedSide string        `json:"commanded_side,omitempty"`
	Checksum      int64         `json:"checksum"`
	Status        CommandStatus `json:"status"`
}

// Log is an operator or system log message.
type Log struct {
	RCT            time.Time `json:"rct"`
	EventTime      time.Time `json:"event_time"`
	Classification string    `json:"classification"`
	Type           string    `json:"type"`
	Message        string    `json:"message"`
}

// Product is an assembled data product.
type Product struct {
	APID          int32           `json:"apid"`
	CreationTime  time.Time       `json:"creation_time"`
	DvtSCET       time.Time       `json:"dvt_scet"`
	DvtSCLK       SpacecraftClock `json:"dvt_sclk"`
	FullPath      string          `json:"full_path"`
	ProductType   string          `json:"product_type"`
	Partial       bool            `json:"partial"`
	TotalParts    int32           `json:"total_parts"`
	ReceivedParts int32           `json:"received_parts"`
	Checksum      int64           `json:"checksum"`
	FileSize      int64           `json:"file_size"`
	GroundStatus  string          `json:"ground_status"`
}

// CfdpIndication is a CFDP processor indication.
type CfdpIndication struct {
	IndicationTime       time.Time `json:"indication_time"`
	ProcessorID          string    `json:"cfdp_processor_id"`
	Type                 string    `json:"type"`
	FaultCondition       string    `json:"fault_condition,omitempty"`
	Direction            string    `json:"transaction_direction"`
	SourceEntityID       int64     `json:"source_entity_id"`
	SequenceNumber       int64     `json:"transaction_sequence_number"`
	ServiceClass         int32     `json:"service_class"`
	DestinationEntityID  int64     `json:"destination_entity_id"`
	InvolvesFileTransfer bool      `json:"involves_file_transfer"`
	TotalBytes           int64     `json:"total_bytes"`
	TriggeringType       string    `json:"triggering_type,omitempty"`
}

// CfdpPdu is a raw CFDP protocol data unit.
type CfdpPdu struct {
	PduTime     time.Time `json:"pdu_time"`
	ProcessorID string    `json:"cfdp_processor_id"`
	Direction   string    `json:"direction"`
	Metadata    string    `json:"metadata,omitempty"`
	Pdu         []byte    `json:"pdu"`
}
