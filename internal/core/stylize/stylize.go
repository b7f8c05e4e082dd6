package stylize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"portrait-backend/internal/database"
	"portrait-backend/internal/metrics"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrImageRequired = errors.New("Image is required")

type Request struct {
	Image   string
	Style   string
	ImageId uuid.NullUUID
}

// Stylizer has a chat model write a style-specific image prompt and then
// renders it. The uploaded image is only required to be present, the style
// prompt alone drives the rendered output.
type Stylizer struct {
	db        *gorm.DB
	styles    *Catalogue
	writer    PromptWriter
	generator ImageGenerator
}

func NewStylizer(db *gorm.DB, styles *Catalogue, writer PromptWriter, generator ImageGenerator) *Stylizer {
	return &Stylizer{db: db, styles: styles, writer: writer, generator: generator}
}

func (s *Stylizer) Styles() []Style {
	return s.styles.List()
}

func (s *Stylizer) Style(name string) (Style, error) {
	return s.styles.Get(name)
}

func (s *Stylizer) Stylize(ctx context.Context, req Request) (string, error) {
	if req.Image == "" {
		return "", ErrImageRequired
	}

	style, err := s.styles.Get(req.Style)
	if err != nil {
		return "", err
	}

	url, err := s.render(ctx, style)
	if err != nil {
		metrics.Stylizations.WithLabelValues(style.Name, metrics.OutcomeError).Inc()
		if req.ImageId.Valid {
			if err := database.UpdateImageResult(ctx, s.db, req.ImageId.UUID, "", database.StatusFailed); err != nil {
				slog.Error("error marking image failed", "image_id", req.ImageId.UUID, "error", err)
			}
		}
		return "", err
	}

	metrics.Stylizations.WithLabelValues(style.Name, metrics.OutcomeSuccess).Inc()

	if req.ImageId.Valid {
		if err := database.UpdateImageResult(ctx, s.db, req.ImageId.UUID, url, database.StatusCompleted); err != nil {
			slog.Error("error updating image record", "image_id", req.ImageId.UUID, "error", err)
		}
	}

	return url, nil
}

func (s *Stylizer) render(ctx context.Context, style Style) (string, error) {
	slog.Info("generating prompt", "style", style.Name, "model", PromptModel)
	prompt, err := s.writer.WritePrompt(ctx, style.SystemPrompt, style.UserPrompt)
	if err != nil {
		return "", fmt.Errorf("error generating prompt: %w", err)
	}
	slog.Info("generated prompt", "style", style.Name, "prompt", prompt)

	slog.Info("generating image", "style", style.Name)
	url, err := s.generator.GenerateImage(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("error generating image: %w", err)
	}

	return url, nil
}
