// cmd/hookbot/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           AppName,
		Short:         AppDescription,
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return LoadDotEnv(".env")
		},
	}
	root.AddCommand(newRunCmd(), newCheckEnvCmd(), newConfigCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadEnvConfig()
			if err := ValidateEnvConfig(cfg); err != nil {
				return err
			}
			if err := InitLogger(cfg.LogPath, ParseLogLevel(cfg.LogLevel), cfg.LogFormat); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer Log().Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bot, err := NewBot(cfg)
			if err != nil {
				return err
			}
			if err := bot.Start(ctx); err != nil {
				bot.Stop()
				return err
			}

			Log().Info("Bot is running. Press Ctrl+C to exit.")
			<-ctx.Done()
			return bot.Stop()
		},
	}
}

func newCheckEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-env",
		Short: "Report which environment variables are set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportEnv(cmd.OutOrStdout(), CheckEnv())
		},
	}
}

func reportEnv(w io.Writer, statuses []EnvStatus) error {
	var missing []string
	for _, s := range statuses {
		switch {
		case s.Set:
			fmt.Fprintf(w, "%s is set\n", s.Name)
		case s.Required:
			missing = append(missing, s.Name)
		default:
			fmt.Fprintf(w, "%s is not set (optional)\n", s.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %v", missing)
	}
	fmt.Fprintln(w, "All required environment variables are set.")
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change a guild's stored configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <guild> <option>",
		Short: "Print a guild option",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *GuildStore) error {
				return configGet(cmd.Context(), cmd.OutOrStdout(), store, args[0], args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <guild> <option> <value>",
		Short: "Change a guild option",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *GuildStore) error {
				return configSet(cmd.Context(), cmd.OutOrStdout(), store, args[0], args[1], args[2])
			})
		},
	})
	return cmd
}

func withStore(fn func(*GuildStore) error) error {
	cfg := LoadEnvConfig()
	store, err := OpenGuildStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func configGet(ctx context.Context, w io.Writer, store GuildSettings, guildID, option string) error {
	c, ok := LookupConfigurable(option)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, option)
	}
	v, err := store.Get(ctx, guildID, c.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = %s\n", c.Name, c.Format(v))
	return nil
}

func configSet(ctx context.Context, w io.Writer, store GuildSettings, guildID, option, raw string) error {
	c, ok := LookupConfigurable(option)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, option)
	}
	v, err := c.Parse(raw)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, guildID, c.Name, v); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = %s\n", c.Name, c.Format(v))
	return nil
}
