package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"portrait-backend/internal/core/training"
	"portrait-backend/internal/database"
	"portrait-backend/pkg/api"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

var photoExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

func loadPhotos(dir string) ([]*resty.MultipartField, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading photo directory: %w", err)
	}

	var fields []*resty.MultipartField
	for _, entry := range entries {
		contentType, ok := photoExtensions[strings.ToLower(filepath.Ext(entry.Name()))]
		if entry.IsDir() || !ok {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", entry.Name(), err)
		}

		fields = append(fields, &resty.MultipartField{
			Param:       "images",
			FileName:    entry.Name(),
			ContentType: contentType,
			Reader:      bytes.NewReader(data),
		})
	}

	if err := training.CheckImageCount(len(fields)); err != nil {
		return nil, err
	}

	return fields, nil
}

func createSession(client *resty.Client, photos []*resty.MultipartField, triggerWord string) (api.TrainingSession, error) {
	var session api.TrainingSession
	var apiErr api.ErrorResponse

	res, err := client.R().
		SetMultipartFields(photos...).
		SetFormData(map[string]string{"trigger_word": triggerWord}).
		SetResult(&session).
		SetError(&apiErr).
		Post("/training-sessions")
	if err != nil {
		return session, fmt.Errorf("error uploading photos: %w", err)
	}
	if res.IsError() {
		return session, fmt.Errorf("upload failed (%d): %s", res.StatusCode(), apiErr.Error)
	}

	return session, nil
}

func getSession(client *resty.Client, id string) (api.TrainingSession, error) {
	var session api.TrainingSession
	var apiErr api.ErrorResponse

	res, err := client.R().
		SetPathParam("session_id", id).
		SetResult(&session).
		SetError(&apiErr).
		Get("/training-sessions/{session_id}")
	if err != nil {
		return session, fmt.Errorf("error checking session: %w", err)
	}
	if res.IsError() {
		return session, fmt.Errorf("status check failed (%d): %s", res.StatusCode(), apiErr.Error)
	}

	return session, nil
}

var (
	errTrainingFailed = errors.New("training failed")
	errApiUnreachable = errors.New("giving up on the api")
)

// watchSession polls the session until it finishes, mirroring its progress on
// a bar. It gives up after maxFailures checks in a row fail.
func watchSession(client *resty.Client, session api.TrainingSession, interval time.Duration, maxFailures int) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("training "+session.TriggerWord),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
	)

	failures := 0
	for {
		_ = bar.Set(int(session.Progress))

		switch session.Status {
		case database.StatusCompleted:
			_ = bar.Finish()
			fmt.Printf("\ntraining complete, model version %s\n", session.ModelVersion)
			return nil
		case database.StatusFailed:
			fmt.Println()
			return fmt.Errorf("%w: %s", errTrainingFailed, session.Error)
		}

		time.Sleep(interval)

		current, err := getSession(client, session.Id.String())
		if err != nil {
			failures++
			if failures >= maxFailures {
				return fmt.Errorf("%w after %d failed checks: %w", errApiUnreachable, failures, err)
			}
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
			continue
		}
		failures = 0
		session = current
	}
}
