package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/rshell/internal/acl"
	"pkt.systems/rshell/schema"
)

const totpIssuer = "rshell"

func newACLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acl",
		Short: "Prepare console user credentials",
	}
	cmd.AddCommand(newACLHashPasswordCmd())
	cmd.AddCommand(newACLTOTPCmd())
	return cmd
}

func newACLHashPasswordCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for acl.users[].password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := resolvePassword(cmd, fromStdin)
			if err != nil {
				return err
			}
			hash, err := acl.HashPassword(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "password-from-stdin", false, "read password from stdin")
	return cmd
}

func newACLTOTPCmd() *cobra.Command {
	var issuer string
	var noQR bool
	cmd := &cobra.Command{
		Use:   "totp <username>",
		Short: "Generate a TOTP secret for acl.users[].totp_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := schema.NormalizeUsername(args[0])
			if err != nil {
				return err
			}
			key, err := totp.Generate(totp.GenerateOpts{
				Issuer:      issuer,
				AccountName: string(username),
			})
			if err != nil {
				return err
			}
			printTOTPEnrollment(cmd.OutOrStdout(), string(username), key.Secret(), key.URL(), !noQR)
			return nil
		},
	}
	cmd.Flags().StringVar(&issuer, "issuer", totpIssuer, "issuer shown in authenticator apps")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "do not print the enrolment QR code")
	return cmd
}

func printTOTPEnrollment(w io.Writer, username, secret, url string, qr bool) {
	_, _ = fmt.Fprintf(w, "username: %s\n", username)
	_, _ = fmt.Fprintf(w, "totp_secret: %s\n", secret)
	_, _ = fmt.Fprintf(w, "otpauth_url: %s\n", url)
	if qr {
		_, _ = fmt.Fprintln(w, "totp_qr:")
		qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	}
}

func resolvePassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		pass := strings.TrimSpace(string(data))
		if pass == "" {
			return "", errors.New("password from stdin is empty")
		}
		return pass, nil
	}
	in := bufio.NewReader(cmd.InOrStdin())
	pass, err := promptSecret(cmd.InOrStdin(), in, cmd.ErrOrStderr(), "Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := promptSecret(cmd.InOrStdin(), in, cmd.ErrOrStderr(), "Confirm password: ")
	if err != nil {
		return "", err
	}
	if pass != confirm {
		return "", errors.New("passwords do not match")
	}
	if pass == "" {
		return "", errors.New("password is empty")
	}
	return pass, nil
}

// promptSecret reads a line without echo when src is a terminal, falling
// back to a plain line read from lines otherwise.
func promptSecret(src io.Reader, lines *bufio.Reader, prompt io.Writer, label string) (string, error) {
	_, _ = fmt.Fprint(prompt, label)
	if f, ok := src.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(secret), nil
	}
	line, err := lines.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
