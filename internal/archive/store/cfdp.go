package store

import (
	"strconv"

	"github.com/xtxerr/tlmarchive/internal/message"
	"github.com/xtxerr/tlmarchive/internal/validation"
)

// CFDP transaction directions.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// cfdpIndicationFormatter writes one CfdpIndication row per indication.
type cfdpIndicationFormatter struct{}

func (f *cfdpIndicationFormatter) Topics() []string { return []string{message.TopicCfdpIndication} }

func (f *cfdpIndicationFormatter) Key(ind *message.CfdpIndication) string {
	return ind.ProcessorID + "/" + strconv.FormatInt(ind.SourceEntityID, 10) + "/" + strconv.FormatInt(ind.SequenceNumber, 10)
}

func (f *cfdpIndicationFormatter) Format(ctx *Context, ind *message.CfdpIndication) error {
	if err := validation.All(
		validation.Required("cfdpProcessorId", ind.ProcessorID),
		validation.Required("type", ind.Type),
		validation.RequiredTime("indicationTime", ind.IndicationTime),
		validation.OneOf("transactionDirection", ind.Direction, DirectionIn, DirectionOut),
		validation.Range("serviceClass", int64(ind.ServiceClass), 1, 2),
	); err != nil {
		return err
	}

	ctx.Row(ctx.Value).
		Time(ind.IndicationTime).
		String(ind.ProcessorID).
		String(ind.Type).
		OptString(ind.FaultCondition).
		String(ind.Direction).
		Int(ind.SourceEntityID).
		Int(ind.SequenceNumber).
		Int(int64(ind.ServiceClass)).
		Int(ind.DestinationEntityID).
		Bool(ind.InvolvesFileTransfer).
		Int(ind.TotalBytes).
		OptString(ind.TriggeringType)
	return ctx.Value.End()
}

// cfdpPduFormatter writes one CfdpPdu row per PDU.
type cfdpPduFormatter struct{}

func (f *cfdpPduFormatter) Topics() []string { return []string{message.TopicCfdpPdu} }

func (f *cfdpPduFormatter) Key(p *message.CfdpPdu) string { return p.ProcessorID }

func (f *cfdpPduFormatter) Format(ctx *Context, p *message.CfdpPdu) error {
	if err := validation.All(
		validation.Required("cfdpProcessorId", p.ProcessorID),
		validation.RequiredTime("pduTime", p.PduTime),
		validation.OneOf("direction", p.Direction, DirectionIn, DirectionOut),
		validation.RequiredBytes("pdu", p.Pdu),
	); err != nil {
		return err
	}

	ctx.Row(ctx.Value).
		Time(p.PduTime).
		String(p.ProcessorID).
		String(p.Direction).
		OptString(p.Metadata).
		Blob(p.Pdu)
	return ctx.Value.End()
}
