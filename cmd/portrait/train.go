package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train [photo-dir]",
	Short: "Upload photos and train a model",
	Long:  "Uploads 12 to 20 photos from a directory as a new training session and follows the training until it finishes.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrain,
}

var (
	trainTriggerWord string
	trainInterval    time.Duration
	trainDetach      bool
)

func init() {
	trainCmd.Flags().StringVar(&trainTriggerWord, "trigger-word", "", "trigger word for the model, generated when empty")
	trainCmd.Flags().DurationVar(&trainInterval, "interval", 10*time.Second, "how often to check training progress")
	trainCmd.Flags().BoolVar(&trainDetach, "detach", false, "return once the session is created")
}

func runTrain(cmd *cobra.Command, args []string) error {
	photos, err := loadPhotos(args[0])
	if err != nil {
		return err
	}

	client := newClient()

	session, err := createSession(client, photos, trainTriggerWord)
	if err != nil {
		return err
	}
	fmt.Printf("created session %s with trigger word %s\n", session.Id, session.TriggerWord)

	if trainDetach {
		return nil
	}

	return watchSession(client, session, trainInterval, maxFailures)
}
