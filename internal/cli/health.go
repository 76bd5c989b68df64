package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long: `Check that the server is up and its storage backend answers.

With --wait the check is retried until it passes or the duration elapses,
which is handy for scripts that start the server in the background.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result HealthResult

			check := func() error {
				err := client.Get(cmd.Context(), "/api/v1/health", &result)
				var reqErr *RequestError
				if errors.As(err, &reqErr) && !reqErr.Temporary() {
					return backoff.Permanent(err)
				}
				return err
			}

			var err error
			if wait > 0 {
				policy := backoff.NewExponentialBackOff()
				policy.InitialInterval = 100 * time.Millisecond
				policy.MaxElapsedTime = wait
				err = backoff.Retry(check, backoff.WithContext(policy, cmd.Context()))
			} else {
				err = check()
			}
			if err != nil {
				return fmt.Errorf("server unhealthy: %w", err)
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep retrying for up to this long")

	return cmd
}
