package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ZetoOfficial/portal-cms/internal/app"
	"github.com/ZetoOfficial/portal-cms/internal/config"
	"github.com/ZetoOfficial/portal-cms/internal/logger"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

type options struct {
	logLevel string
	logFile  string
	envFile  string
}

// NewRootCmd собирает дерево команд portal.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Content management and client portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log_level", "INFO", "Set the logging level (DEBUG, INFO, WARNING, ERROR). Defaults to LOG_LEVEL.")
	flags.StringVar(&opts.logFile, "log_file", "", "Set the log file path. If not set, logs will be printed to console. Defaults to LOG_FILE.")
	flags.StringVar(&opts.envFile, "env_file", config.DefaultEnvFile, "Load environment variables from this file.")

	root.AddCommand(
		opts.serveCmd(),
		opts.migrateCmd(),
		opts.createAdminCmd(),
		opts.reportCmd(),
		opts.invoicesCmd(),
		opts.tokensCmd(),
	)
	return root
}

// setup loads the env file and configures logging. A missing default env
// file is fine; a missing explicit one is not.
func (o *options) setup(cmd *cobra.Command) error {
	if err := godotenv.Load(o.envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("env_file") {
			return fmt.Errorf("load env: %w", err)
		}
	}
	if !cmd.Flags().Changed("log_level") {
		if v := os.Getenv("LOG_LEVEL"); v != "" {
			o.logLevel = v
		}
	}
	if !cmd.Flags().Changed("log_file") {
		o.logFile = os.Getenv("LOG_FILE")
	}
	return logger.Setup(o.logLevel, o.logFile)
}

// withApp loads config, opens storage and runs fn against a ready App.
func (o *options) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, st, o.logFile)
	if err != nil {
		_ = st.Close(ctx)
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func (o *options) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the overdue invoice sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func (o *options) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create storage constraints and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Migrate(ctx)
			})
		},
	}
}

func (o *options) createAdminCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a verified administrator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			if password == "" {
				return errors.New("password is required (--password or ADMIN_PASSWORD)")
			}
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				user, err := a.Auth.CreateAdmin(ctx, email, name, password)
				if err != nil {
					return fmt.Errorf("create admin: %w", err)
				}
				logrus.WithFields(logrus.Fields{"id": user.ID, "email": user.Email}).Info("Администратор создан")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Administrator email.")
	cmd.Flags().StringVar(&name, "name", "Administrator", "Display name.")
	cmd.Flags().StringVar(&password, "password", "", "Password. Defaults to ADMIN_PASSWORD.")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (o *options) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "report <name>",
		Short:     "Run a predefined report query",
		Long:      "Run a predefined report query. Available: " + strings.Join(storage.ReportNames, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: storage.ReportNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !storage.ValidReport(args[0]) {
				return fmt.Errorf("query %s not found, available: %s", args[0], strings.Join(storage.ReportNames, ", "))
			}
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Report(ctx, args[0])
			})
		},
	}
}

func (o *options) invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Invoice maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "mark-overdue",
		Short: "Mark sent invoices past their due date as overdue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.MarkOverdue(ctx)
				if err != nil {
					return err
				}
				logrus.Infof("Просрочено счетов: %d", n)
				return nil
			})
		},
	})
	return cmd
}

func (o *options) tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Token maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired and used tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.PurgeTokens(ctx)
				if err != nil {
					return err
				}
				logrus.Infof("Удалено токенов: %d", n)
				return nil
			})
		},
	})
	return cmd
}
