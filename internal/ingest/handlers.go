package ingest

import (
	"context"
	"fmt"

	"github.com/hyperjump/kura/internal/convert"
	"github.com/hyperjump/kura/internal/enrich"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/models"
)

// handler extracts and chunks one document of a given kind.
type handler func(p *Pipeline, ctx context.Context, ct models.ContentType, req *models.DocumentRequest, content []byte) ([]*models.TextRecord, error)

var handlers = map[models.Kind]handler{
	models.KindText:  (*Pipeline).handleText,
	models.KindImage: (*Pipeline).handleImage,
	models.KindPDF:   (*Pipeline).handlePDF,
}

func (p *Pipeline) handle(ctx context.Context, ct models.ContentType, req *models.DocumentRequest, content []byte) ([]*models.TextRecord, error) {
	h, ok := handlers[ct.Kind()]
	if !ok {
		return nil, stageErr(StageValidate, fmt.Errorf("%w: %s", models.ErrUnsupportedContentType, ct))
	}
	return h(p, ctx, ct, req, content)
}

func (p *Pipeline) handleText(ctx context.Context, ct models.ContentType, req *models.DocumentRequest, content []byte) ([]*models.TextRecord, error) {
	var (
		recs []*models.TextRecord
		err  error
	)
	label := req.DisplayName()
	switch ct {
	case models.ContentTypeJSON:
		recs, err = p.structured.FlattenJSON(ctx, content)
	case models.ContentTypeXML:
		recs, err = p.structured.FlattenXML(ctx, content)
	case models.ContentTypeCSV:
		recs, err = p.structured.ChunkCSV(ctx, content, label)
	case models.ContentTypeXLSX:
		recs, err = p.chunkWorkbook(ctx, content, label)
	default:
		conv, ok := convert.For(ct)
		if !ok {
			return nil, stageErr(StageValidate, fmt.Errorf("%w: %s", models.ErrUnsupportedContentType, ct))
		}
		text, cerr := conv.Convert(ctx, content)
		if cerr != nil {
			return nil, stageErr(StageExtract, cerr)
		}
		recs = p.chunkRaw([]models.RawContent{{Text: text}}, label)
	}
	if err != nil {
		return nil, stageErr(StageChunk, err)
	}
	return recs, nil
}

// chunkWorkbook chunks every sheet as a table labeled "{file}#{sheet}".
func (p *Pipeline) chunkWorkbook(ctx context.Context, content []byte, label string) ([]*models.TextRecord, error) {
	sheets, err := extract.ReadSheets(content)
	if err != nil {
		return nil, err
	}
	var out []*models.TextRecord
	for _, s := range sheets {
		recs, err := p.structured.ChunkTable(ctx, s.Rows, label+"#"+s.Name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", s.Name, err)
		}
		for _, r := range recs {
			if r.Metadata == nil {
				r.Metadata = map[string]string{}
			}
			r.Metadata["sheet"] = s.Name
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (p *Pipeline) handleImage(ctx context.Context, ct models.ContentType, req *models.DocumentRequest, content []byte) ([]*models.TextRecord, error) {
	if p.vision == nil {
		return nil, stageErr(StageExtract, ErrNoVision)
	}
	raw, err := p.vision.ExtractImage(ctx, content, string(ct))
	if err != nil {
		return nil, stageErr(StageExtract, err)
	}
	return p.chunkRaw(raw, req.DisplayName()), nil
}

func (p *Pipeline) handlePDF(ctx context.Context, _ models.ContentType, req *models.DocumentRequest, content []byte) ([]*models.TextRecord, error) {
	doc, err := p.openPDF(content)
	if err != nil {
		return nil, stageErr(StageExtract, err)
	}
	raw, err := p.pdf.Extract(ctx, doc)
	if err != nil {
		return nil, stageErr(StageExtract, err)
	}
	return p.chunkRaw(raw, req.DisplayName()), nil
}

// chunkRaw splits each unit's text to the token budget, keeping its page number. Every chunk is
// headed by the document name and page it came from.
func (p *Pipeline) chunkRaw(raw []models.RawContent, name string) []*models.TextRecord {
	var out []*models.TextRecord
	for _, rc := range raw {
		header := sourceHeader(name, rc.PageNumber)
		for _, chunk := range p.chunker.ChunkText(rc.Text, header) {
			out = append(out, models.NewTextRecord(chunk, rc.PageNumber))
		}
	}
	return out
}

func sourceHeader(name string, page int) string {
	return "Source: " + enrich.ReferenceDescription(name, page)
}
