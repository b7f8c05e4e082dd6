// portrait uploads a directory of photos as a training session and follows
// the training until it finishes.
package main

import (
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	apiURL      string
	apiToken    string
	maxFailures int
)

var rootCmd = &cobra.Command{
	Use:          "portrait",
	Short:        "Train personal portrait models",
	Long:         "portrait uploads training photos to the portrait api and reports training progress.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8000/api/v1", "base url of the portrait api")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("PORTRAIT_TOKEN"), "bearer token for the api")
	rootCmd.PersistentFlags().IntVar(&maxFailures, "max-failures", 6, "consecutive failed progress checks before giving up")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(statusCmd)
}

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimSuffix(apiURL, "/")).
		SetAuthToken(apiToken).
		SetTimeout(5 * time.Minute)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
