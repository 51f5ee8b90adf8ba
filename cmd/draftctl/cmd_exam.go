package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stemsi/draftsync/internal/examtimer"
	"github.com/stemsi/draftsync/internal/remote"
)

// codeAlreadySubmitted is the backend's error code for a second hand-in.
const codeAlreadySubmitted = "ALREADY_SUBMITTED"

func newExamCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exam",
		Short: "Take timed exams",
	}
	cmd.AddCommand(newExamTakeCommand(a))
	return cmd
}

func newExamTakeCommand(a *app) *cobra.Command {
	var (
		examID      string
		answersPath string
		retries     int
	)
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Start an exam and count down to its deadline",
		Long: `Start (or resume) an exam and show the time remaining.

Type "submit" and press Enter to hand in early. When the deadline passes the
answers file is handed in automatically. Ctrl+C leaves without handing in; the
exam keeps running on the server and "take" resumes it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := a.client()
			out := cmd.OutOrStdout()

			session, err := client.StartExam(ctx, examID)
			if err != nil {
				if remote.CodeOf(err) == codeAlreadySubmitted {
					fmt.Fprintln(out, "This exam has already been submitted.")
					return nil
				}
				return fmt.Errorf("start exam: %w", err)
			}

			tm := examtimer.New(examtimer.Options{
				Submit: func(ctx context.Context, reason examtimer.Reason) error {
					answers, err := readAnswers(answersPath)
					if err != nil {
						return err
					}
					err = client.SubmitExam(ctx, examID, answers)
					if remote.CodeOf(err) == codeAlreadySubmitted {
						return nil
					}
					return err
				},
				Source: examtimer.DeadlineFunc(func(ctx context.Context) (time.Time, error) {
					s, err := client.ExamState(ctx, examID)
					return s.Deadline, err
				}),
				ResyncInterval: a.cfg.ResyncInterval,
				Logger:         a.log,
				OnTick: func(remaining int) {
					fmt.Fprintf(out, "\rTime remaining: %s ", formatRemaining(remaining))
				},
			})

			go readCommands(ctx, cmd.InOrStdin(), func(line string) {
				if line != "submit" {
					fmt.Fprintf(cmd.ErrOrStderr(), "\nUnknown command %q, type \"submit\" to hand in\n", line)
					return
				}
				if err := tm.Submit(ctx); err != nil && !errors.Is(err, examtimer.ErrAlreadySubmitted) {
					a.log.Debug().Err(err).Msg("Submit from keyboard failed")
				}
			})

			if err := tm.Start(ctx, session.Deadline); err != nil {
				return err
			}
			if err := tm.Run(ctx); err != nil {
				fmt.Fprintf(out, "\nLeft without submitting. The exam ends at %s.\n", session.Deadline.Local().Format(time.Kitchen))
				return nil
			}

			for attempt := 1; tm.Err() != nil && attempt <= retries; attempt++ {
				fmt.Fprintf(out, "\nSubmission failed (%v), retrying (%d/%d)...\n", tm.Err(), attempt, retries)
				select {
				case <-ctx.Done():
					return fmt.Errorf("exam not submitted: %w", tm.Err())
				case <-time.After(time.Duration(attempt) * 2 * time.Second):
				}
				_ = tm.RetrySubmit(ctx)
			}
			if err := tm.Err(); err != nil {
				return fmt.Errorf("exam not submitted, run \"draftctl exam take\" again before the deadline: %w", err)
			}

			_, reason := tm.Submitted()
			if reason == examtimer.ReasonDeadline {
				fmt.Fprintln(out, "\nTime is up. Your answers were submitted.")
			} else {
				fmt.Fprintln(out, "\nYour answers were submitted.")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&examID, "exam", "e", "", "Exam id")
	cmd.Flags().StringVarP(&answersPath, "answers", "a", "", "JSON file with your answers, read at hand-in time")
	cmd.Flags().IntVar(&retries, "retries", 3, "Times to retry a failed hand-in")
	_ = cmd.MarkFlagRequired("exam")
	return cmd
}

// readAnswers loads the answers file. A missing path hands in an empty set.
func readAnswers(path string) (json.RawMessage, error) {
	if path == "" {
		return json.RawMessage("{}"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("answers file %s is not valid JSON", path)
	}
	return data, nil
}

func readCommands(ctx context.Context, in io.Reader, handle func(line string)) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			handle(strings.ToLower(line))
		}
	}
}

func formatRemaining(seconds int) string {
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
