package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/snow-dispatch/internal/config"
	"github.com/jakechorley/snow-dispatch/pkg/api"
	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/utils"
)

// IssueTokenCmd creates the issueToken command
func IssueTokenCmd(app *AppContext) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issueToken <role> <id>",
		Short: "Issue a bearer token for a worker, customer or admin",
		Long: `Issue a signed bearer token for the dispatch API.

For workers the id is their E.164 phone number.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(args[0], args[1])
			if err != nil {
				return err
			}
			if err := app.Cfg.Secrets.RequireSecrets("JWT_SECRET"); err != nil {
				return err
			}

			token, err := api.NewTokens(app.Cfg.Secrets.JWTSecret, ttl).Issue(actor)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", api.DefaultTokenTTL, "How long the token stays valid")
	return cmd
}

func parseActor(role, id string) (model.Actor, error) {
	r := model.Role(role)
	switch r {
	case model.RoleWorker, model.RoleCustomer, model.RoleAdmin:
	case model.RoleSystem:
		return model.Actor{}, fmt.Errorf("the system role is reserved for the scheduler")
	default:
		return model.Actor{}, fmt.Errorf("invalid role %q: expected worker, customer or admin", role)
	}
	if id == "" {
		return model.Actor{}, fmt.Errorf("id is required")
	}
	return model.Actor{ID: id, Role: r}, nil
}

// AuthorizeEmailCmd creates the authorizeEmail command
func AuthorizeEmailCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "authorizeEmail",
		Short: "Authorize the Gmail account used for customer emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oauthCfg, err := config.LoadOAuthClient(app.Env)
			if err != nil {
				return fmt.Errorf("failed to load OAuth client config: %w", err)
			}
			oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
			if err != nil {
				return err
			}

			// Replaces any stored token
			if err := utils.DeleteTokenFile(app.Env); err != nil {
				return err
			}
			if _, err := utils.AuthorizeInteractive(app.Ctx, oauthConfig, app.Env, app.Logger); err != nil {
				return err
			}
			fmt.Printf("\n✓ Gmail authorized for %s\n\n", app.Env)
			return nil
		},
	}
}
