package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show the status of a training session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	statusWatch    bool
	statusInterval time.Duration
)

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "follow the session until it finishes")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 10*time.Second, "how often to check training progress")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newClient()

	session, err := getSession(client, args[0])
	if err != nil {
		return err
	}

	if statusWatch {
		return watchSession(client, session, statusInterval, maxFailures)
	}

	fmt.Printf("session:      %s\n", session.Id)
	fmt.Printf("trigger word: %s\n", session.TriggerWord)
	fmt.Printf("status:       %s\n", session.Status)
	fmt.Printf("progress:     %.0f%%\n", session.Progress)
	if session.Error != "" {
		fmt.Printf("error:        %s\n", session.Error)
	}
	if session.ModelVersion != "" {
		fmt.Printf("model:        %s\n", session.ModelVersion)
	}
	return nil
}
