package extract

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrUnsupportedImage is returned for image streams that cannot be decoded to pixels.
var ErrUnsupportedImage = errors.New("unsupported pdf image")

// OpenPDF parses content as a PDF document.
func OpenPDF(content []byte) (doc Document, err error) {
	defer recoverPDF(&err)
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	return &pdfDocument{r: r, content: content}, nil
}

// The pdf package reports some malformed input by panicking.
func recoverPDF(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("malformed PDF: %v", r)
	}
}

type pdfDocument struct {
	r       *pdf.Reader
	content []byte

	jpegOnce sync.Once
	jpegs    map[jpegKey][]byte
	jpegErr  error
}

type jpegKey struct {
	page int
	name string
}

func (d *pdfDocument) NumPage() int { return d.r.NumPage() }

func (d *pdfDocument) Page(n int) (p Page, err error) {
	defer recoverPDF(&err)
	page := d.r.Page(n)
	if page.V.IsNull() {
		return emptyPage{}, nil
	}
	return &pdfPage{p: page, num: n, doc: d}, nil
}

type emptyPage struct{}

func (emptyPage) Images() ([]Image, error)      { return nil, nil }
func (emptyPage) TextBlocks() ([]string, error) { return nil, nil }

type pdfPage struct {
	p   pdf.Page
	num int
	doc *pdfDocument
}

// TextBlocks groups the page rows into paragraphs separated by vertical gaps.
func (pg *pdfPage) TextBlocks() (blocks []string, err error) {
	defer recoverPDF(&err)
	rows, err := pg.p.GetTextByRow()
	if err != nil {
		text, perr := pg.p.GetPlainText(nil)
		if perr != nil {
			return nil, fmt.Errorf("extract text: %w", err)
		}
		return []string{text}, nil
	}
	lines := make([]line, 0, len(rows))
	for _, row := range rows {
		if l, ok := rowLine(row); ok {
			lines = append(lines, l)
		}
	}
	return groupLines(lines), nil
}

type line struct {
	y    float64
	size float64
	text string
}

func rowLine(row *pdf.Row) (line, bool) {
	words := append([]pdf.Text(nil), row.Content...)
	sort.SliceStable(words, func(i, j int) bool { return words[i].X < words[j].X })
	var b strings.Builder
	size := 0.0
	end := math.Inf(-1)
	for _, w := range words {
		size = math.Max(size, w.FontSize)
		if b.Len() > 0 && w.X-end > w.FontSize*0.2 && !strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(w.S, " ") {
			b.WriteByte(' ')
		}
		b.WriteString(w.S)
		end = w.X + w.W
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return line{}, false
	}
	return line{y: float64(row.Position), size: size, text: text}, true
}

// groupLines joins consecutive lines into blocks, starting a new block when the gap between
// baselines exceeds 1.6x the previous line's font size.
func groupLines(lines []line) []string {
	var blocks []string
	var cur []string
	for i, l := range lines {
		if i > 0 {
			prev := lines[i-1]
			size := prev.size
			if size <= 0 {
				size = 12
			}
			if math.Abs(prev.y-l.y) > size*1.6 {
				blocks = append(blocks, strings.Join(cur, "\n"))
				cur = nil
			}
		}
		cur = append(cur, l.text)
	}
	if len(cur) > 0 {
		blocks = append(blocks, strings.Join(cur, "\n"))
	}
	return blocks
}

// Images returns the page's image XObjects. DCT streams are passed through as JPEG, raw and Flate
// samples are re-encoded as PNG. Other encodings are skipped and reported in err.
func (pg *pdfPage) Images() (imgs []Image, err error) {
	defer recoverPDF(&err)
	xobjs := pg.p.Resources().Key("XObject")
	if xobjs.Kind() != pdf.Dict {
		return nil, nil
	}
	var (
		out  []Image
		errs []error
	)
	for _, name := range xobjs.Keys() {
		x := xobjs.Key(name)
		if x.Key("Subtype").Name() != "Image" {
			continue
		}
		if imageFilter(x) == "DCTDecode" {
			data, err := pg.doc.rawJPEG(pg.num, name)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			out = append(out, Image{Data: data, MIME: "image/jpeg"})
			continue
		}
		data, err := decodeXObject(x)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, Image{Data: data, MIME: "image/png"})
	}
	return out, errors.Join(errs...)
}

// imageFilter returns the single filter applied to an image stream, or "" when there is none or
// the stream is chained through several.
func imageFilter(x pdf.Value) string {
	f := x.Key("Filter")
	switch f.Kind() {
	case pdf.Name:
		return f.Name()
	case pdf.Array:
		if f.Len() == 1 {
			return f.Index(0).Name()
		}
	}
	return ""
}

// rawJPEG returns the undecoded DCT stream of image XObject name on page. The pdf package cannot
// hand out raw stream bytes, so the JPEG streams of the whole document are collected once with
// pdfcpu and looked up by page and resource name.
func (d *pdfDocument) rawJPEG(page int, name string) ([]byte, error) {
	d.jpegOnce.Do(func() {
		d.jpegs, d.jpegErr = collectJPEGs(d.content)
	})
	if d.jpegErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, d.jpegErr)
	}
	if data, ok := d.jpegs[jpegKey{page: page, name: name}]; ok {
		return data, nil
	}
	// Resource names are not always reported; a page with a single JPEG is unambiguous.
	var only []byte
	n := 0
	for k, data := range d.jpegs {
		if k.page == page {
			only = data
			n++
		}
	}
	if n == 1 {
		return only, nil
	}
	return nil, fmt.Errorf("%w: DCT stream not found", ErrUnsupportedImage)
}

var pdfcpuConfigOnce sync.Once

func pdfcpuConfig() *model.Configuration {
	pdfcpuConfigOnce.Do(func() {
		// Keep pdfcpu from creating a config directory under the user's home.
		model.ConfigPath = "disable"
	})
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func collectJPEGs(content []byte) (out map[jpegKey][]byte, err error) {
	defer recoverPDF(&err)
	out = make(map[jpegKey][]byte)
	err = api.ExtractImages(bytes.NewReader(content), nil, func(img model.Image, _ bool, _ int) error {
		if img.FileType != "jpg" {
			return nil
		}
		data, err := io.ReadAll(img)
		if err != nil {
			return err
		}
		out[jpegKey{page: img.PageNr, name: img.Name}] = data
		return nil
	}, pdfcpuConfig())
	if err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}
	return out, nil
}

func decodeXObject(x pdf.Value) (data []byte, err error) {
	defer recoverPDF(&err)
	if f := x.Key("Filter"); f.Kind() == pdf.Name && f.Name() != "FlateDecode" {
		return nil, fmt.Errorf("%w: filter %s", ErrUnsupportedImage, f.Name())
	}
	if bpc := x.Key("BitsPerComponent").Int64(); bpc != 8 {
		return nil, fmt.Errorf("%w: %d bits per component", ErrUnsupportedImage, bpc)
	}
	comps, err := colorComponents(x.Key("ColorSpace"))
	if err != nil {
		return nil, err
	}
	rc := x.Reader()
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image stream: %w", err)
	}
	return encodeRaw(int(x.Key("Width").Int64()), int(x.Key("Height").Int64()), comps, raw)
}

func colorComponents(cs pdf.Value) (int, error) {
	name := cs.Name()
	if cs.Kind() == pdf.Array && cs.Len() > 0 {
		name = cs.Index(0).Name()
		if name == "ICCBased" && cs.Len() > 1 {
			return int(cs.Index(1).Key("N").Int64()), nil
		}
	}
	switch name {
	case "DeviceGray", "CalGray":
		return 1, nil
	case "DeviceRGB", "CalRGB":
		return 3, nil
	case "DeviceCMYK":
		return 4, nil
	}
	return 0, fmt.Errorf("%w: color space %q", ErrUnsupportedImage, name)
}

// encodeRaw converts 8-bit interleaved samples into a PNG.
func encodeRaw(width, height, comps int, raw []byte) ([]byte, error) {
	if width <= 0 || height <= 0 || len(raw) < width*height*comps {
		return nil, fmt.Errorf("%w: %dx%d with %d components needs %d bytes, have %d",
			ErrUnsupportedImage, width, height, comps, width*height*comps, len(raw))
	}
	rect := image.Rect(0, 0, width, height)
	var img image.Image
	switch comps {
	case 1:
		g := image.NewGray(rect)
		copy(g.Pix, raw)
		img = g
	case 3:
		rgba := image.NewRGBA(rect)
		for i := 0; i < width*height; i++ {
			rgba.Pix[i*4], rgba.Pix[i*4+1], rgba.Pix[i*4+2], rgba.Pix[i*4+3] = raw[i*3], raw[i*3+1], raw[i*3+2], 0xFF
		}
		img = rgba
	case 4:
		cmyk := image.NewCMYK(rect)
		copy(cmyk.Pix, raw)
		img = cmyk
	default:
		return nil, fmt.Errorf("%w: %d components", ErrUnsupportedImage, comps)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
