// Package convert is the upstream stage that turns submitted files into text
// content ready for extraction.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
)

// Document is a raw submitted file.
type Document struct {
	Filename string
	Data     []byte
}

func (d Document) Ext() string {
	return constants.NormalizeExt(filepath.Ext(d.Filename))
}

// Converter turns one document into text. Failures wrap common.ErrConversionFailure
// and are reported per file.
type Converter interface {
	Convert(ctx context.Context, doc Document) (string, error)
}

// Supporter is implemented by converters that only handle some formats.
type Supporter interface {
	Supports(doc Document) bool
}

// TextConverter passes markdown and plain text through unchanged.
type TextConverter struct {
	logger *slog.Logger
}

func NewTextConverter(logger *slog.Logger) *TextConverter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextConverter{logger: logger}
}

func (c *TextConverter) Supports(doc Document) bool {
	_, ok := constants.TextExtensions[doc.Ext()]
	return ok
}

func (c *TextConverter) Convert(_ context.Context, doc Document) (string, error) {
	if !c.Supports(doc) {
		return "", fmt.Errorf("%w: %s: unsupported extension %q", common.ErrConversionFailure, doc.Filename, doc.Ext())
	}
	if !utf8.Valid(doc.Data) {
		return "", fmt.Errorf("%w: %s: content is not valid UTF-8", common.ErrConversionFailure, doc.Filename)
	}
	text := strings.TrimPrefix(string(doc.Data), "\ufeff")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: document is empty", common.ErrConversionFailure, doc.Filename)
	}
	c.logger.Debug("convert.text.ok", "filename", doc.Filename, "format", constants.MapExtToFormat(doc.Ext()), "chars", len(text))
	return text, nil
}

// Chain tries each converter that supports the document, in order.
type Chain []Converter

func (ch Chain) Convert(ctx context.Context, doc Document) (string, error) {
	var lastErr error
	for _, c := range ch {
		if s, ok := c.(Supporter); ok && !s.Supports(doc) {
			continue
		}
		text, err := c.Convert(ctx, doc)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s: no converter for %q", common.ErrConversionFailure, doc.Filename, doc.Ext())
	}
	return "", lastErr
}
