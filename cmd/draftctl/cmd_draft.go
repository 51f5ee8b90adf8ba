package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/stemsi/draftsync/internal/draft"
	"github.com/stemsi/draftsync/internal/localcache"
	"github.com/stemsi/draftsync/internal/reconciler"
	"github.com/stemsi/draftsync/internal/remote"
)

// draftFlags identify the draft a subcommand works on.
type draftFlags struct {
	problem  string
	language string
}

func (f *draftFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.problem, "problem", "p", "", "Problem id")
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "Language of the draft, e.g. python")
	_ = cmd.MarkFlagRequired("problem")
	_ = cmd.MarkFlagRequired("language")
}

func newDraftCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Show, pull, save and edit code drafts",
	}

	cmd.AddCommand(newDraftShowCommand(a))
	cmd.AddCommand(newDraftPullCommand(a))
	cmd.AddCommand(newDraftSaveCommand(a))
	cmd.AddCommand(newDraftEditCommand(a))
	cmd.AddCommand(newDraftHistoryCommand(a))

	return cmd
}

// workspace is the local cache plus the backend client for one command run.
type workspace struct {
	store  *localcache.SQLiteStore
	cache  *localcache.Cache
	client *remote.Client
}

func (a *app) openWorkspace() (*workspace, error) {
	store, err := localcache.OpenSQLite(a.cfg.CachePath)
	if err != nil {
		return nil, err
	}
	return &workspace{
		store:  store,
		cache:  localcache.New(store, a.log),
		client: a.client(),
	}, nil
}

func (w *workspace) Close() {
	_ = w.store.Close()
}

func (a *app) reconciler(ctx context.Context, ws *workspace, f draftFlags, stderr io.Writer) (*reconciler.Reconciler, error) {
	return reconciler.New(ctx, reconciler.Options{
		SubjectID:   f.problem,
		Variant:     f.language,
		Cache:       ws.cache,
		Remote:      ws.client,
		Notifier:    terminalNotifier(stderr),
		Logger:      a.log,
		QuietPeriod: a.cfg.AutosaveQuiet,
	})
}

// awaitReady waits for the remote copy to be fetched. A slow backend is not
// an error; the local copy is used.
func awaitReady(ctx context.Context, r *reconciler.Reconciler) error {
	select {
	case <-r.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newDraftShowCommand(a *app) *cobra.Command {
	var f draftFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the locally cached draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			rec, ok := ws.cache.Read(f.problem, f.language)
			if !ok {
				return fmt.Errorf("no local draft for %s/%s", f.problem, f.language)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved_at=%s origin=%s\n", rec.SavedAt.Format(time.RFC3339), rec.Origin)
			fmt.Fprint(cmd.OutOrStdout(), rec.Content)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newDraftPullCommand(a *app) *cobra.Command {
	var f draftFlags
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Reconcile the local draft with the backend and print the winner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			local, hadLocal := ws.cache.Read(f.problem, f.language)

			r, err := a.reconciler(cmd.Context(), ws, f, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer r.Close()

			if err := awaitReady(cmd.Context(), r); err != nil {
				return err
			}

			st := r.State()
			source := "none"
			switch {
			case st.LastSavedAt == nil:
			case hadLocal && st.LastSavedAt.Equal(local.SavedAt):
				source = "local"
			default:
				source = "remote"
			}

			meta := fmt.Sprintf("source=%s", source)
			if st.LastSavedAt != nil {
				meta += " saved_at=" + st.LastSavedAt.Format(time.RFC3339)
			}
			if st.LastOrigin != nil {
				meta += " origin=" + string(*st.LastOrigin)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), meta)
			fmt.Fprint(cmd.OutOrStdout(), st.Value)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newDraftSaveCommand(a *app) *cobra.Command {
	var (
		f      draftFlags
		file   string
		origin string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a file as the current draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := parseOriginFlag(origin)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}

			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			r, err := a.reconciler(cmd.Context(), ws, f, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer r.Close()

			r.SetValue(string(content))
			saveErr := r.Save(cmd.Context(), o)

			st := r.State()
			line := fmt.Sprintf("status=%s", st.Status)
			if st.LastSavedAt != nil {
				line += " saved_at=" + st.LastSavedAt.Format(time.RFC3339)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)

			if saveErr != nil {
				return fmt.Errorf("draft kept locally, remote save failed: %w", saveErr)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "File holding the code")
	cmd.Flags().StringVar(&origin, "origin", "manual", "Why the draft is saved: manual or submission")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func parseOriginFlag(s string) (draft.Origin, error) {
	switch strings.ToLower(s) {
	case "manual":
		return draft.OriginManual, nil
	case "submission":
		return draft.OriginSubmission, nil
	case "auto":
		return draft.OriginAuto, nil
	default:
		return "", fmt.Errorf("unknown origin %q (want manual or submission)", s)
	}
}

func newDraftEditCommand(a *app) *cobra.Command {
	var (
		f    draftFlags
		file string
	)
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Watch a file and autosave it while you edit",
		Long: `Watch a file and autosave every change once editing pauses.

If the file is missing or empty it is filled with the reconciled draft first.
Press Ctrl+C to stop; pending changes are written locally and sent to the
backend before draftctl exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			r, err := a.reconciler(ctx, ws, f, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer r.Close()

			if err := awaitReady(ctx, r); err != nil {
				return err
			}

			data, err := os.ReadFile(file)
			switch {
			case err != nil && !errors.Is(err, os.ErrNotExist):
				return fmt.Errorf("read %s: %w", file, err)
			case len(data) == 0:
				if err := os.WriteFile(file, []byte(r.Value()), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", file, err)
				}
			case string(data) != r.Value():
				r.SetValue(string(data))
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (autosave after %s idle). Ctrl+C to stop.\n", file, a.cfg.AutosaveQuiet)

			err = watchFile(ctx, file, a.log, func(content string) {
				if content != r.Value() {
					r.SetValue(content)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			// The editing surface is going away.
			select {
			case <-r.FlushOnHide():
			case <-time.After(a.cfg.RequestTimeout + time.Second):
				a.log.Warn().Msg("Final save still running, exiting with the draft kept locally")
			}

			st := r.State()
			fmt.Fprintf(cmd.ErrOrStderr(), "Stopped. status=%s dirty=%t\n", st.Status, st.Dirty)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "File to watch")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDraftHistoryCommand(a *app) *cobra.Command {
	var (
		problem  string
		language string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent drafts stored on the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.client().History(cmd.Context(), problem, language, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No drafts stored yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SAVED AT\tORIGIN\tLANGUAGE\tBYTES\tFIRST LINE")
			for _, rec := range records {
				first, _, _ := strings.Cut(rec.Content, "\n")
				if len(first) > 40 {
					first = first[:40] + "…"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					rec.SavedAt.Local().Format("2006-01-02 15:04:05"), rec.Origin, rec.Variant, len(rec.Content), first)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&problem, "problem", "p", "", "Problem id")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Only this language")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of drafts to list (max 100)")
	_ = cmd.MarkFlagRequired("problem")
	return cmd
}
