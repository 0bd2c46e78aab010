// Package preprocessor turns an uploaded artifact (image, PDF, DOCX)
// into the normalized form the extraction backends consume: best-effort
// OCR text plus, where the vision backend can use them, the artifact
// bytes themselves.
package preprocessor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/webp"

	"github.com/classtable/timetable-api/internal/docai"
	"github.com/classtable/timetable-api/internal/pipeline"
)

// MIME types accepted for upload.
const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeGIF  = "image/gif"
	MimeWebP = "image/webp"
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// SupportedMimeTypes lists every MIME type the pipeline accepts.
var SupportedMimeTypes = map[string]bool{
	MimePNG:  true,
	MimeJPEG: true,
	MimeGIF:  true,
	MimeWebP: true,
	MimePDF:  true,
	MimeDOCX: true,
}

// IsSupported reports whether the MIME type can enter the pipeline.
func IsSupported(mimeType string) bool {
	return SupportedMimeTypes[mimeType]
}

// Artifact is the preprocessed form of an upload. Text carries OCR or
// native text when available; ImageBytes carries renderable bytes for
// the vision backend (PNG for images, the raw file for PDFs; absent for
// DOCX).
type Artifact struct {
	Name       string
	MimeType   string
	Text       string
	ImageBytes []byte
	// ImageMime is the MIME type of ImageBytes, which can differ from
	// MimeType after image normalization.
	ImageMime string
	// Tables holds structured tables when the document AI service
	// returned any; the structured backend consumes these.
	Tables [][][]string
	// PageCount is set for PDFs.
	PageCount int
}

// HasImage reports whether the artifact carries renderable bytes.
func (a *Artifact) HasImage() bool {
	return len(a.ImageBytes) > 0
}

// Preprocessor normalizes uploads for the extraction backends.
type Preprocessor struct {
	docai  *docai.Client
	logger *slog.Logger
}

// New creates a preprocessor. The document AI client may be disabled;
// OCR then degrades to image-only evidence.
func New(docaiClient *docai.Client, logger *slog.Logger) *Preprocessor {
	return &Preprocessor{
		docai:  docaiClient,
		logger: logger.With("component", "preprocessor"),
	}
}

// Preprocess converts raw upload bytes into an Artifact.
func (p *Preprocessor) Preprocess(ctx context.Context, content []byte, name, mimeType string) (*Artifact, error) {
	switch mimeType {
	case MimePNG, MimeJPEG, MimeGIF, MimeWebP:
		return p.preprocessImage(ctx, content, name, mimeType)
	case MimePDF:
		return p.preprocessPDF(ctx, content, name)
	case MimeDOCX:
		return p.preprocessDOCX(ctx, content, name)
	default:
		return nil, pipeline.Errorf(pipeline.KindUnsupportedType, "unsupported MIME type %q", mimeType)
	}
}

// preprocessImage decodes the image, re-encodes it as PNG and runs OCR.
// OCR failure is logged and swallowed: the vision backend can still work
// from the image alone.
func (p *Preprocessor) preprocessImage(ctx context.Context, content []byte, name, mimeType string) (*Artifact, error) {
	img, err := decodeImage(content, mimeType)
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindUnsupportedType, "decode %s: %v", mimeType, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, pipeline.Errorf(pipeline.KindUnknown, "re-encode png: %v", err)
	}

	artifact := &Artifact{
		Name:       name,
		MimeType:   mimeType,
		ImageBytes: buf.Bytes(),
		ImageMime:  MimePNG,
	}

	if p.docai.IsEnabled() {
		result, err := p.docai.Extract(ctx, artifact.ImageBytes, name, MimePNG, &docai.ExtractOptions{
			ExtractTables: true,
			OCRLanguage:   "eng",
			ForceOCR:      true,
		})
		if err != nil {
			p.logger.Warn("ocr failed, continuing with image only",
				slog.String("name", name), slog.Any("error", err))
		} else {
			artifact.Text = result.Content
			artifact.Tables = tableData(result.Tables)
		}
	}

	return artifact, nil
}

// preprocessPDF extracts the text layer with pdfcpu and keeps the raw
// bytes so the vision backend can ingest the document directly.
func (p *Preprocessor) preprocessPDF(ctx context.Context, content []byte, name string) (*Artifact, error) {
	artifact := &Artifact{
		Name:       name,
		MimeType:   MimePDF,
		ImageBytes: content,
		ImageMime:  MimePDF,
	}

	text, pageCount, err := extractPDFText(content)
	if err != nil {
		// A broken text layer is survivable; the vision backend gets the
		// raw document either way.
		p.logger.Warn("pdf text extraction failed",
			slog.String("name", name), slog.Any("error", err))
	} else {
		artifact.Text = text
		artifact.PageCount = pageCount
	}

	if p.docai.IsEnabled() {
		result, err := p.docai.Extract(ctx, content, name, MimePDF, &docai.ExtractOptions{ExtractTables: true})
		if err != nil {
			p.logger.Warn("docai pdf extraction failed",
				slog.String("name", name), slog.Any("error", err))
		} else {
			if strings.TrimSpace(artifact.Text) == "" {
				artifact.Text = result.Content
			}
			artifact.Tables = tableData(result.Tables)
		}
	}

	return artifact, nil
}

// preprocessDOCX extracts text via the document AI service. There are no
// renderable bytes for the vision backend, so a working extraction
// service is required.
func (p *Preprocessor) preprocessDOCX(ctx context.Context, content []byte, name string) (*Artifact, error) {
	if !p.docai.IsEnabled() {
		return nil, pipeline.Errorf(pipeline.KindOCR, "docx extraction requires the document AI service")
	}

	result, err := p.docai.Extract(ctx, content, name, MimeDOCX, &docai.ExtractOptions{ExtractTables: true})
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindOCR, err)
	}

	return &Artifact{
		Name:     name,
		MimeType: MimeDOCX,
		Text:     result.Content,
		Tables:   tableData(result.Tables),
	}, nil
}

func decodeImage(content []byte, mimeType string) (image.Image, error) {
	switch mimeType {
	case MimePNG:
		return png.Decode(bytes.NewReader(content))
	case MimeJPEG:
		return jpeg.Decode(bytes.NewReader(content))
	case MimeGIF:
		return gif.Decode(bytes.NewReader(content))
	case MimeWebP:
		return webp.Decode(bytes.NewReader(content))
	}
	return nil, fmt.Errorf("no decoder for %s", mimeType)
}

func tableData(tables []docai.ExtractedTable) [][][]string {
	if len(tables) == 0 {
		return nil
	}
	out := make([][][]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, t.Data)
	}
	return out
}

// extractPDFText pulls the text layer out of a PDF. pdfcpu works on
// files, so the bytes take a round-trip through a scratch directory.
func extractPDFText(content []byte) (string, int, error) {
	tmpDir, err := os.MkdirTemp("", "timetable-pdf-")
	if err != nil {
		return "", 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpFile := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(tmpFile, content, 0o644); err != nil {
		return "", 0, fmt.Errorf("write temp pdf: %w", err)
	}

	pdfCtx, err := pdfapi.ReadContextFile(tmpFile)
	if err != nil {
		return "", 0, fmt.Errorf("read pdf: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(tmpDir, "pages")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", pageCount, fmt.Errorf("create pages dir: %w", err)
	}

	conf := pdfmodel.NewDefaultConfiguration()
	if err := pdfapi.ExtractContentFile(tmpFile, outDir, nil, conf); err != nil {
		return "", pageCount, fmt.Errorf("extract content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", pageCount, fmt.Errorf("read pages dir: %w", err)
	}

	pageTexts := make(map[int]string)
	var pageNums []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = string(data)
		pageNums = append(pageNums, pageNum)
	}
	sort.Ints(pageNums)

	var sb strings.Builder
	for _, n := range pageNums {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(pageTexts[n])
	}
	return sb.String(), pageCount, nil
}
