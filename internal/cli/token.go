package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/partyrelay/internal/dependencies/clock"
	"github.com/mcoot/partyrelay/internal/dependencies/random"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/services/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Host token commands",
	}

	cmd.AddCommand(newTokenIssueCmd())

	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
		save   bool
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a development host token with the server's shared secret",
		Long: `Mint a signed host access token locally.

The secret must match the server's PARTYRELAY_JWT_SECRET. It is read from
--secret or PARTYCTL_SECRET. With --save the token is written to the token
file so later commands pick it up automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Secret == "" {
				return errors.New("a secret is required (--secret or PARTYCTL_SECRET)")
			}

			svc, err := auth.New(auth.Config{
				Secret:    cfg.Secret,
				Issuer:    cfg.Issuer,
				AccessTTL: ttl,
			}, clock.New(), random.New())
			if err != nil {
				return err
			}

			token, expiresAt, err := svc.IssueAccessToken(model.UserID(userID), "host")
			if err != nil {
				return err
			}

			if save {
				if err := cfg.SaveToken(token); err != nil {
					return err
				}
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(TokenResult{Token: token, UserID: userID, ExpiresAt: expiresAt})
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Host user id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "Save the token to the token file")
	cmd.Flags().StringVar(&cfg.Secret, "secret", cfg.Secret, "Signing secret (env: PARTYCTL_SECRET)")
	cmd.Flags().StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "Token issuer (env: PARTYCTL_ISSUER)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
