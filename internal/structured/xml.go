package structured

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kura/internal/models"
)

type xmlFrame struct {
	path     string
	text     strings.Builder
	hasChild bool
}

// FlattenXML walks the element tree building slash-delimited paths from the root.
// Attributes become "{path}/@{name}" records; text is emitted only for leaf elements.
func (c *Converter) FlattenXML(ctx context.Context, data []byte) ([]*models.TextRecord, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out     []*models.TextRecord
		stack   []*xmlFrame
		sawRoot bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: xml: %v", ErrMalformedInput, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && sawRoot {
				return nil, fmt.Errorf("%w: xml: multiple root elements", ErrMalformedInput)
			}
			sawRoot = true
			parentPath := ""
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.hasChild = true
				parentPath = top.path
			}
			frame := &xmlFrame{path: parentPath + "/" + t.Name.Local}
			stack = append(stack, frame)
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				attrPath := frame.path + "/@" + attr.Name.Local
				out = c.emit(out, attr.Value, "XML Path: "+attrPath, models.PathKindXML, attrPath, models.NodeTypeAttribute, models.ParentElement)
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if frame.hasChild {
				continue
			}
			if text := strings.TrimSpace(frame.text.String()); text != "" {
				out = c.emit(out, text, "XML Path: "+frame.path, models.PathKindXML, frame.path, models.NodeTypeElement, models.ParentElement)
			}
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("%w: xml: no root element", ErrMalformedInput)
	}
	return out, nil
}
