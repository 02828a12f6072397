package schema

import "github.com/xtxerr/tlmarchive/internal/archive/types"

// Column helpers
func f(name string) Field             { return Field{Name: name} }
func s(name string, maxLen int) Field { return Field{Name: name, MaxLen: maxLen} }

// sessionFields lead every table.
var sessionFields = []Field{f("sessionId"), f("hostId"), f("sessionFragment")}

func withSession(fields ...Field) []Field {
	out := make([]Field, 0, len(sessionFields)+len(fields))
	out = append(out, sessionFields...)
	return append(out, fields...)
}

func channelValue(name string) *Table {
	return NewTable(name, withSession(
		s("channelId", 9),
		f("vcid"),
		f("dssId"),
		f("ert"),
		f("scet"),
		f("sclkCoarse"),
		f("sclkFine"),
		f("rct"),
		f("dnInt"),
		f("dnUint"),
		f("dnDouble"),
		f("dnDoubleFlag"),
		s("dnString", 255),
		f("eu"),
		f("euFlag"),
		s("dnAlarmState", 20),
		s("euAlarmState", 20),
		f("isRealtime"),
	)...)
}

func channelData(name string) *Table {
	return NewTable(name, withSession(
		s("channelId", 9),
		f("channelIndex"),
		s("type", 16),
		s("name", 64),
		s("module", 32),
		s("dnFormat", 16),
		s("euFormat", 16),
	)...)
}

func channelAggregate(name string) *Table {
	return NewTable(name, withSession(
		s("channelId", 9),
		f("windowStart"),
		f("windowEnd"),
		f("count"),
		f("minValue"),
		f("maxValue"),
		f("meanValue"),
		f("p50"),
		f("p90"),
		f("p99"),
		f("exceptionalCount"),
	)...)
}

func evr(name string) *Table {
	return NewTable(name, withSession(
		f("id"),
		f("eventId"),
		s("name", 128),
		s("level", 16),
		s("module", 32),
		s("message", 2048),
		f("ert"),
		f("scet"),
		f("sclkCoarse"),
		f("sclkFine"),
		f("rct"),
		f("dssId"),
		f("vcid"),
		f("isRealtime"),
	)...)
}

func evrMetadata(name string) *Table {
	return NewTable(name, withSession(
		f("id"),
		s("keyword", 64),
		s("value", 256),
	)...)
}

func packet(name string) *Table {
	return NewTable(name, withSession(
		f("id"),
		f("apid"),
		f("spsc"),
		f("ert"),
		f("scet"),
		f("sclkCoarse"),
		f("sclkFine"),
		f("rct"),
		f("vcid"),
		f("dssId"),
		f("frameId"),
		f("length"),
		f("isFill"),
	)...)
}

func body(name string, extra ...Field) *Table {
	return NewTable(name, withSession(append([]Field{f("id"), f("body")}, extra...)...)...)
}

var tables = map[types.Identifier]Pair{
	types.ChannelValue:        {Value: channelValue("ChannelValue"), Metadata: channelData("ChannelData")},
	types.HeaderChannelValue:  {Value: channelValue("HeaderChannelValue"), Metadata: channelData("HeaderChannelData")},
	types.MonitorChannelValue: {Value: channelValue("MonitorChannelValue"), Metadata: channelData("MonitorChannelData")},
	types.SseChannelValue:     {Value: channelValue("SseChannelValue"), Metadata: channelData("SseChannelData")},

	types.ChannelAggregate:        {Value: channelAggregate("ChannelAggregate")},
	types.HeaderChannelAggregate:  {Value: channelAggregate("HeaderChannelAggregate")},
	types.MonitorChannelAggregate: {Value: channelAggregate("MonitorChannelAggregate")},
	types.SseChannelAggregate:     {Value: channelAggregate("SseChannelAggregate")},

	types.Evr:    {Value: evr("Evr"), Metadata: evrMetadata("EvrMetadata")},
	types.SseEvr: {Value: evr("SseEvr"), Metadata: evrMetadata("SseEvrMetadata")},

	types.Packet:    {Value: packet("Packet"), Metadata: body("PacketBody")},
	types.SsePacket: {Value: packet("SsePacket"), Metadata: body("SsePacketBody")},

	types.Frame: {
		Value: NewTable("Frame", withSession(
			f("id"),
			s("type", 32),
			f("vcid"),
			f("vcfc"),
			f("dssId"),
			f("ert"),
			f("rct"),
			f("relaySpacecraftId"),
			f("length"),
			f("isBad"),
			s("badReason", 64),
		)...),
		Metadata: body("FrameBody", f("trailer")),
	},

	types.CommandMessage: {
		Value: NewTable("CommandMessage", withSession(
			s("requestId", 64),
			s("message", 2048),
			s("type", 32),
			s("originalFile", 256),
			s("scmfFile", 256),
			s("commandedSide", 8),
			f("checksum"),
		)...),
		Metadata: NewTable("CommandStatus", withSession(
			s("requestId", 64),
			f("rct"),
			s("status", 32),
			s("failReason", 256),
			f("bit1RadTime"),
			f("lastBitRadTime"),
			f("dssId"),
			f("final"),
		)...),
	},

	types.LogMessage: {
		Value: NewTable("LogMessage", withSession(
			f("rct"),
			f("eventTime"),
			s("classification", 16),
			s("type", 32),
			f("message"),
		)...),
	},

	types.Product: {
		Value: NewTable("Product", withSession(
			f("apid"),
			f("creationTime"),
			f("dvtScet"),
			f("dvtSclkCoarse"),
			f("dvtSclkFine"),
			s("fullPath", 1024),
			s("productType", 64),
			f("isPartial"),
			f("totalParts"),
			f("receivedParts"),
			f("checksum"),
			f("fileSize"),
			s("groundStatus", 16),
		)...),
	},

	types.CfdpIndication: {
		Value: NewTable("CfdpIndication", withSession(
			f("indicationTime"),
			s("cfdpProcessorId", 64),
			s("type", 32),
			s("faultCondition", 64),
			s("transactionDirection", 8),
			f("sourceEntityId"),
			f("transactionSequenceNumber"),
			f("serviceClass"),
			f("destinationEntityId"),
			f("involvesFileTransfer"),
			f("totalBytes"),
			s("triggeringType", 32),
		)...),
	},

	types.CfdpPdu: {
		Value: NewTable("CfdpPdu", withSession(
			f("pduTime"),
			s("cfdpProcessorId", 64),
			s("direction", 8),
			s("metadata", 512),
			f("pdu"),
		)...),
	},
}
