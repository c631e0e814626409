package structured

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hyperjump/kura/internal/models"
)

// FlattenJSON walks a JSON document in key order. Object members extend the path with
// ":key", array elements with "[i]". Each scalar leaf is chunked under a "JSON Path" header.
func (c *Converter) FlattenJSON(ctx context.Context, data []byte) ([]*models.TextRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out []*models.TextRecord
	if err := c.walkJSON(ctx, dec, "", models.ParentRoot, &out); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: json: %v", ErrMalformedInput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: json: trailing data after top-level value", ErrMalformedInput)
	}
	return out, nil
}

func (c *Converter) walkJSON(ctx context.Context, dec *json.Decoder, path, parent string, out *[]*models.TextRecord) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == "" {
			path = "$"
		}
		*out = c.emit(*out, jsonScalar(tok), "JSON Path: "+path, models.PathKindJSON, path, models.NodeTypeValue, parent)
		return nil
	}
	switch delim {
	case '{':
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, ok := keyTok.(string)
			if !ok {
				return fmt.Errorf("object key is %T", keyTok)
			}
			if err := c.walkJSON(ctx, dec, joinJSONPath(path, key), models.ParentObject, out); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; dec.More(); i++ {
			if err := c.walkJSON(ctx, dec, path+"["+strconv.Itoa(i)+"]", models.ParentArray, out); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unexpected delimiter %q", delim)
	}
	// closing delimiter
	_, err = dec.Token()
	return err
}

func joinJSONPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + ":" + key
}

func jsonScalar(tok json.Token) string {
	switch v := tok.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}
