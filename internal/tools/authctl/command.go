package authctl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/app"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/domain"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/tools/common"
	"github.com/chudeemeke/stealth-learning-auth-core/internal/tools/ui"
)

type options struct {
	envFile string
	timeout time.Duration
}

// NewRootCommand builds the authctl operator CLI.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Operate the auth core: keys, sessions, api keys",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "environment file to load before connecting")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")

	cmd.AddCommand(newKeysCommand(opts))
	cmd.AddCommand(newMasterCommand(opts))
	cmd.AddCommand(newSessionsCommand(opts))
	cmd.AddCommand(newAPIKeyCommand(opts))
	return cmd
}

// withApp wires the full application for the duration of one command.
func withApp(opts *options, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	a, cleanup, err := app.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("initialize auth core: %w", err)
	}
	defer cleanup()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = a.Observability.Shutdown(shutdownCtx)
	}()
	return fn(ctx, a)
}

func newKeysCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Inspect and manage data and signing keys"}

	var listType string
	var listAll bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored keys of a type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				metas, err := a.DataKeys.ListKeys(ctx, domain.KeyType(listType), !listAll)
				if err != nil {
					return err
				}
				fmt.Println(ui.Heading(fmt.Sprintf("%s keys (%d)", listType, len(metas))))
				if len(metas) == 0 {
					fmt.Println(ui.Muted("  none"))
					return nil
				}
				for _, meta := range metas {
					state := "active"
					if !meta.IsActive {
						state = "retired"
					}
					fmt.Println(ui.KV(meta.KeyID, fmt.Sprintf("v%d %s %s created %s",
						meta.Version, meta.Algorithm, state, meta.CreatedAt.Format(time.RFC3339))))
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&listType, "type", string(domain.KeyTypeDataEncryption), "key type to list")
	list.Flags().BoolVar(&listAll, "all", false, "include retired keys")
	cmd.AddCommand(list)

	var genType string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new data key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				key, err := a.DataKeys.GenerateDataKey(ctx, domain.KeyType(genType))
				if err != nil {
					return err
				}
				fmt.Println(ui.Success("key generated"))
				fmt.Println(ui.KV("key id", key.KeyID))
				fmt.Println(ui.KV("type", genType))
				return nil
			})
		},
	}
	generate.Flags().StringVar(&genType, "type", string(domain.KeyTypeDataEncryption), "key type to generate")
	cmd.AddCommand(generate)

	var rotateID string
	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate a data key, retaining the old one for decryption",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rotateID == "" {
				return fmt.Errorf("--id is required")
			}
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				newID, err := a.DataKeys.RotateKey(ctx, rotateID)
				if err != nil {
					return err
				}
				fmt.Println(ui.Success("key rotated"))
				fmt.Println(ui.KV("old key id", rotateID))
				fmt.Println(ui.KV("new key id", newID))
				return nil
			})
		},
	}
	rotate.Flags().StringVar(&rotateID, "id", "", "key id to rotate")
	cmd.AddCommand(rotate)

	signingRotate := &cobra.Command{
		Use:   "rotate-signing",
		Short: "Rotate the JWT signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				kid, err := a.Signing.Rotate(ctx)
				if err != nil {
					return err
				}
				fmt.Println(ui.Success("signing key rotated"))
				fmt.Println(ui.KV("active kid", kid))
				return nil
			})
		},
	}
	cmd.AddCommand(signingRotate)
	return cmd
}

func newMasterCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "master", Short: "Manage the master key"}

	var emergency bool
	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the master key (retired masters stay available for unwrap)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				if emergency {
					if err := a.Master.EmergencyRotate(ctx); err != nil {
						return err
					}
					fmt.Println(ui.Success("master key rotated, all key caches flushed"))
					return nil
				}
				if err := a.Master.Rotate(ctx); err != nil {
					return err
				}
				fmt.Println(ui.Success("master key rotated"))
				return nil
			})
		},
	}
	rotate.Flags().BoolVar(&emergency, "emergency", false, "also flush every in-process key cache")
	cmd.AddCommand(rotate)
	return cmd
}

func newSessionsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Manage live sessions"}

	var userID string
	revokeAll := &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoke every session of a user and blacklist their tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				if err := a.Auth.RevokeAllSessions(ctx, userID); err != nil {
					return err
				}
				fmt.Println(ui.Success("all sessions revoked"))
				fmt.Println(ui.KV("user", userID))
				return nil
			})
		},
	}
	revokeAll.Flags().StringVar(&userID, "user", "", "user id")
	cmd.AddCommand(revokeAll)

	var sessionID string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a single session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--id is required")
			}
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				if err := a.Auth.RevokeSession(ctx, sessionID); err != nil {
					return err
				}
				fmt.Println(ui.Success("session revoked"))
				fmt.Println(ui.KV("session", sessionID))
				return nil
			})
		},
	}
	revoke.Flags().StringVar(&sessionID, "id", "", "session id")
	cmd.AddCommand(revoke)
	return cmd
}

func newAPIKeyCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Issue and revoke API keys"}

	var userID string
	var scope []string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Issue a new API key (shown once, never stored)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				raw, err := a.Auth.GenerateAPIKey(ctx, userID, scope)
				if err != nil {
					return err
				}
				fmt.Println(ui.Success("api key issued"))
				fmt.Println(ui.KV("user", userID))
				fmt.Println(ui.KV("scope", strings.Join(scope, " ")))
				fmt.Println(ui.KV("key", raw))
				fmt.Println(ui.Muted("  store this key now; it cannot be recovered"))
				return nil
			})
		},
	}
	generate.Flags().StringVar(&userID, "user", "", "user id the key belongs to")
	generate.Flags().StringSliceVar(&scope, "scope", nil, "capability scope entries")
	cmd.AddCommand(generate)

	var rawKey string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key by raw value or stored hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rawKey == "" {
				return fmt.Errorf("--key is required")
			}
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				if err := a.Auth.RevokeAPIKey(ctx, rawKey); err != nil {
					return err
				}
				fmt.Println(ui.Success("api key revoked"))
				return nil
			})
		},
	}
	revoke.Flags().StringVar(&rawKey, "key", "", "raw api key or its hash")
	cmd.AddCommand(revoke)
	return cmd
}
