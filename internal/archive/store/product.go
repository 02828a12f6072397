package store

import (
	"github.com/xtxerr/tlmarchive/internal/message"
	"github.com/xtxerr/tlmarchive/internal/validation"
)

// productFormatter writes one Product row per assembled product.
type productFormatter struct{}

func (f *productFormatter) Topics() []string { return []string{message.TopicProduct} }

func (f *productFormatter) Key(p *message.Product) string { return p.FullPath }

func (f *productFormatter) Format(ctx *Context, p *message.Product) error {
	if err := validation.All(
		validation.Required("fullPath", p.FullPath),
		validation.APID(p.APID),
		validation.NonNegative("totalParts", int64(p.TotalParts)),
		validation.NonNegative("fileSize", p.FileSize),
	); err != nil {
		return err
	}
	if p.ReceivedParts > p.TotalParts && p.TotalParts > 0 {
		ctx.Warn("product received more parts than expected", "received", p.ReceivedParts, "total", p.TotalParts)
	}
	if !p.Partial && p.TotalParts > 0 && p.ReceivedParts < p.TotalParts {
		ctx.Warn("complete product is missing parts", "received", p.ReceivedParts, "total", p.TotalParts)
	}

	ctx.Row(ctx.Value).
		Int(int64(p.APID)).
		Time(p.CreationTime).
		Time(p.DvtSCET).
		Uint(uint64(p.DvtSCLK.Coarse)).
		Uint(uint64(p.DvtSCLK.Fine)).
		String(p.FullPath).
		OptString(p.ProductType).
		Bool(p.Partial).
		Int(int64(p.TotalParts)).
		Int(int64(p.ReceivedParts)).
		Int(p.Checksum).
		Int(p.FileSize).
		OptString(p.GroundStatus)
	return ctx.Value.End()
}
