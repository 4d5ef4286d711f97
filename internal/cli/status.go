package cli

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/restream-labs/eventpipe/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running pipeline instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		client := &http.Client{Timeout: 5 * time.Second}
		url := fmt.Sprintf("http://localhost:%d/status", cfg.Server.Port)
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("query %s: %w", url, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read status response: %w", err)
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
