package training

import (
	"fmt"
	"path"
	"time"
)

const (
	OriginalImageName = "original.jpg"
	StylizedImageName = "stylized.jpg"
)

func TrainingDataKey(userId, triggerWord string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%d.zip", userId, triggerWord, at.UnixMilli())
}

func ResultKey(userId, triggerWord, name string) string {
	return path.Join(userId, triggerWord, name)
}
