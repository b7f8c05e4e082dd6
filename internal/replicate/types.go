package replicate

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"
)

const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed || status == StatusCanceled
}

type TrainingInput struct {
	InputImages string `json:"input_images"`
	TriggerWord string `json:"trigger_word"`
	Steps       int    `json:"steps,omitempty"`
	LoraRank    int    `json:"lora_rank,omitempty"`
	Autocaption bool   `json:"autocaption"`
}

type createTrainingRequest struct {
	Destination string        `json:"destination"`
	Input       TrainingInput `json:"input"`
	Webhook     string        `json:"webhook,omitempty"`
}

type TrainingOutput struct {
	Version string `json:"version"`
	Weights string `json:"weights"`
}

type Training struct {
	Id          string            `json:"id"`
	Model       string            `json:"model"`
	Version     string            `json:"version"`
	Status      string            `json:"status"`
	Logs        string            `json:"logs"`
	Error       json.RawMessage   `json:"error"`
	Output      *TrainingOutput   `json:"output"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	URLs        map[string]string `json:"urls"`
}

type createPredictionRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type Prediction struct {
	Id          string            `json:"id"`
	Version     string            `json:"version"`
	Status      string            `json:"status"`
	Logs        string            `json:"logs"`
	Error       json.RawMessage   `json:"error"`
	Input       map[string]any    `json:"input"`
	Output      json.RawMessage   `json:"output"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	URLs        map[string]string `json:"urls"`
}

// OutputURLs handles models that return a single URL as well as models that
// return a list of them.
func (p Prediction) OutputURLs() []string {
	if len(p.Output) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil {
		return many
	}

	return nil
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (t Training) ErrorMessage() string {
	return errorMessage(t.Error)
}

func (p Prediction) ErrorMessage() string {
	return errorMessage(p.Error)
}

var percentPattern = regexp.MustCompile(`(\d{1,3})%\|`)

// Progress reads the trainer's tqdm output, lines like
// "flux_train_replicate:  45%|████▌     | 450/1000", and returns the last
// percentage reported. Returns -1 when the logs have no progress marker yet.
func (t Training) Progress() float64 {
	matches := percentPattern.FindAllStringSubmatch(t.Logs, -1)
	if len(matches) == 0 {
		return -1
	}

	pct, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil || pct > 100 {
		return -1
	}
	return float64(pct)
}
