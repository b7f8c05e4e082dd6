package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.replicate.com/v1"

var ErrNotFound = errors.New("replicate resource not found")

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

type Client struct {
	client *resty.Client
	// downloads carries no credentials, file URLs can point anywhere.
	downloads *resty.Client
}

func NewClient(token, baseURL string) (*Client, error) {
	if token == "" {
		return nil, errors.New("replicate api token cannot be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)

	downloads := resty.New().SetTimeout(2 * time.Minute)

	return &Client{client: client, downloads: downloads}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, result any) error {
	var apiErr apiError

	req := c.client.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	res, err := req.Execute(method, endpoint)
	if err != nil {
		slog.Error("replicate request failed", "method", method, "endpoint", endpoint, "error", err)
		return fmt.Errorf("replicate request %s %s failed: %w", method, endpoint, err)
	}

	if res.IsError() {
		slog.Error("replicate returned error", "endpoint", endpoint, "status_code", res.StatusCode(), "body", res.String())
		detail := apiErr.Detail
		if detail == "" {
			detail = res.String()
		}
		if res.StatusCode() == 404 {
			return fmt.Errorf("%w: %s", ErrNotFound, detail)
		}
		return fmt.Errorf("replicate %s %s returned %d: %s", method, endpoint, res.StatusCode(), detail)
	}

	return nil
}

// CreateTraining starts a fine-tune of trainerModel ("owner/name") at the given
// trainer version. The trained weights are pushed to destination ("owner/name").
func (c *Client) CreateTraining(ctx context.Context, trainerModel, trainerVersion, destination string, input TrainingInput) (Training, error) {
	var training Training
	endpoint := fmt.Sprintf("/models/%s/versions/%s/trainings", trainerModel, trainerVersion)

	err := c.do(ctx, "POST", endpoint, createTrainingRequest{Destination: destination, Input: input}, &training)
	if err != nil {
		return training, err
	}

	slog.Info("created replicate training", "training_id", training.Id, "trigger_word", input.TriggerWord)
	return training, nil
}

func (c *Client) GetTraining(ctx context.Context, id string) (Training, error) {
	var training Training
	err := c.do(ctx, "GET", "/trainings/"+id, nil, &training)
	return training, err
}

func (c *Client) CancelTraining(ctx context.Context, id string) (Training, error) {
	var training Training
	err := c.do(ctx, "POST", "/trainings/"+id+"/cancel", nil, &training)
	return training, err
}

func (c *Client) CreatePrediction(ctx context.Context, version string, input map[string]any) (Prediction, error) {
	var prediction Prediction
	err := c.do(ctx, "POST", "/predictions", createPredictionRequest{Version: version, Input: input}, &prediction)
	if err != nil {
		return prediction, err
	}

	slog.Info("created replicate prediction", "prediction_id", prediction.Id, "version", version)
	return prediction, nil
}

func (c *Client) GetPrediction(ctx context.Context, id string) (Prediction, error) {
	var prediction Prediction
	err := c.do(ctx, "GET", "/predictions/"+id, nil, &prediction)
	return prediction, err
}

// Download fetches a public file, such as a prediction output on
// replicate.delivery or a training archive. The API token is never sent.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	res, err := c.downloads.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("error downloading %s: %w", url, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("error downloading %s: status %d", url, res.StatusCode())
	}
	return res.Body(), nil
}
