package api

import (
	"database/sql"
	"portrait-backend/internal/core/stylize"
	"portrait-backend/internal/database"
	"portrait-backend/pkg/api"
	"time"

	"github.com/samber/lo"
)

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func convertStyles(styles []stylize.Style) []api.Style {
	return lo.Map(styles, func(s stylize.Style, _ int) api.Style {
		return api.Style{Name: s.Name, Title: s.Title}
	})
}

func convertImage(img database.Image) api.Image {
	return api.Image{
		Id:           img.Id,
		UserId:       img.UserId,
		OriginalUrl:  img.OriginalUrl,
		ProcessedUrl: img.ProcessedUrl.String,
		Style:        img.Style,
		Status:       img.Status,
		CreatedAt:    img.CreationTime,
		CompletedAt:  nullTime(img.CompletionTime),
	}
}

func convertSession(s database.TrainingSession) api.TrainingSession {
	return api.TrainingSession{
		Id:              s.Id,
		UserId:          s.UserId,
		TriggerWord:     s.TriggerWord,
		TrainingDataUrl: s.TrainingDataUrl,
		NumImages:       s.NumImages,
		Status:          s.Status,
		Progress:        s.Progress,
		Error:           s.Error.String,
		ModelVersion:    s.ModelVersion.String,
		CreatedAt:       s.CreationTime,
		CompletedAt:     nullTime(s.CompletionTime),
	}
}

func convertSessions(sessions []database.TrainingSession) []api.TrainingSession {
	return lo.Map(sessions, func(s database.TrainingSession, _ int) api.TrainingSession {
		return convertSession(s)
	})
}

func convertGeneration(g database.Generation) api.Generation {
	return api.Generation{
		Id:          g.Id,
		SessionId:   g.SessionId,
		Prompt:      g.Prompt,
		Status:      g.Status,
		OutputUrl:   g.OutputUrl.String,
		Error:       g.Error.String,
		CreatedAt:   g.CreationTime,
		CompletedAt: nullTime(g.CompletionTime),
	}
}
