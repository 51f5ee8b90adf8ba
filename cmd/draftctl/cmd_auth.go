package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newAuthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the access token",
	}
	cmd.AddCommand(newAuthLoginCommand(a))
	return cmd
}

func newAuthLoginCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store an access token in the config file",
		Long: `Store an access token issued by the exam proctor (issue-token) in the
draftctl config file. The token is read without echo when typed in a
terminal, or from stdin when piped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			a.v.Set("token", token)
			path := a.v.ConfigFileUsed()
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("locate home directory: %w", err)
				}
				path = filepath.Join(home, ".config", "draftctl", "draftctl.yaml")
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := a.v.WriteConfigAs(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			if err := os.Chmod(path, 0o600); err != nil {
				return fmt.Errorf("restrict config permissions: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", path)
			return nil
		},
	}
}

func readToken(in io.Reader, prompt io.Writer) (string, error) {
	var raw string
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		raw = string(b)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read token: %w", err)
		}
		raw = line
	}

	token := strings.TrimSpace(raw)
	if token == "" {
		return "", errors.New("token is empty")
	}
	return token, nil
}
