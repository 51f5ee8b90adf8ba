package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stemsi/draftsync/internal/config"
	"github.com/stemsi/draftsync/internal/logger"
	"github.com/stemsi/draftsync/internal/notify"
	"github.com/stemsi/draftsync/internal/remote"
)

var version = "dev"

// app carries the loaded configuration to every subcommand.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.ClientConfig
	log        zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "draftctl",
		Short: "draftctl - keep code drafts in sync with the draft backend",
		Long: `draftctl edits code drafts locally and keeps them in sync with the
draft backend.

Every draft is written to a local cache first, so nothing typed is lost when
the network or the backend is unavailable. Saves reach the backend in order and
an older version never replaces a newer one.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default ./draftctl.yaml or ~/.config/draftctl/draftctl.yaml)")
	flags.String("api-url", "", "Backend API base URL, e.g. http://localhost:8080/api/v1")
	flags.String("token", "", "Student access token")
	flags.String("cache", "", "Path of the local draft cache database")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	for key, flag := range map[string]string{
		"api_url":    "api-url",
		"token":      "token",
		"cache_path": "cache",
		"log_level":  "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(newDraftCommand(a))
	cmd.AddCommand(newExamCommand(a))
	cmd.AddCommand(newAuthCommand(a))

	return cmd
}

func (a *app) load(stderr io.Writer) error {
	if a.configPath != "" {
		a.v.SetConfigFile(a.configPath)
	}
	cfg, err := config.LoadClient(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.Setup(cfg.LogLevel, cfg.LogFormat, stderr)
	return nil
}

// client builds the backend client. The HTTP hard timeout only bounds
// requests the client has already stopped waiting for.
func (a *app) client() *remote.Client {
	hard := a.cfg.SubmitTimeout
	if a.cfg.RequestTimeout > hard {
		hard = a.cfg.RequestTimeout
	}
	transport := remote.NewHTTPTransport(a.cfg.APIURL, a.cfg.Token, hard+30*time.Second)
	return remote.NewClient(transport, remote.Options{
		DraftTimeout:  a.cfg.RequestTimeout,
		ExamTimeout:   a.cfg.RequestTimeout,
		SubmitTimeout: a.cfg.SubmitTimeout,
	}, a.log)
}

// terminalNotifier prints save outcomes for the person at the keyboard.
func terminalNotifier(w io.Writer) notify.Notifier {
	return notify.Func(func(kind notify.Kind, title, message string) {
		mark := color.New(color.FgCyan).Sprint("*")
		switch kind {
		case notify.KindSuccess:
			mark = color.New(color.FgGreen).Sprint("✓")
		case notify.KindError:
			mark = color.New(color.FgRed, color.Bold).Sprint("!")
		}
		fmt.Fprintf(w, "%s %s: %s\n", mark, title, message)
	})
}
