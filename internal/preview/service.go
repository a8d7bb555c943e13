package preview

import (
	"context"
	"fmt"

	"composer/api/internal/region"

	"github.com/rs/zerolog"
)

// Request describes one preview of a page's effective tree.
type Request struct {
	PageID     string
	TemplateID string
	Title      string
	Tree       *region.Region
	Locked     func(widgetID string) bool
	Format     Format
	Publish    bool
}

// Service renders previews and publishes them when a publisher is
// configured.
type Service struct {
	publisher *Publisher
	renderPDF func(context.Context, string) ([]byte, error)
	log       zerolog.Logger
}

// NewService creates a preview service. publisher may be nil.
func NewService(publisher *Publisher, log zerolog.Logger) *Service {
	return &Service{publisher: publisher, renderPDF: RenderPDF, log: log}
}

// Render generates the preview in the requested format. A failed upload is
// logged and the rendered preview is still returned without an object key.
func (s *Service) Render(ctx context.Context, req Request) (*Result, error) {
	html, err := RenderHTML(req.Tree, PageData{
		Title:      req.Title,
		PageID:     req.PageID,
		TemplateID: req.TemplateID,
		Locked:     req.Locked,
	})
	if err != nil {
		return nil, err
	}

	var result *Result
	switch req.Format {
	case "", FormatHTML:
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(req.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{
			Data:     data,
			Filename: sanitizeFilename(req.Title) + ".pdf",
			MimeType: "application/pdf",
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if req.Publish && s.publisher != nil {
		key, err := s.publisher.Publish(ctx, req.PageID, result)
		if err != nil {
			s.log.Warn().Err(err).Str("page_id", req.PageID).Msg("preview upload failed")
		} else {
			result.ObjectKey = key
		}
	}
	return result, nil
}
