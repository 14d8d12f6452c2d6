package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/spf13/cobra"
)

// getSimpleText and getPassword are swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// NewRootCommand builds the command tree bound to a.
func (a *App) NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "TryItOut account and billing client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Parsed by config.LoadConfig; declared so cobra accepts them.
	pf := root.PersistentFlags()
	pf.StringP("server", "a", a.config.ServerURL, "base URL of the API server")
	pf.IntP("timeout", "t", int(a.config.RequestTimeout.Seconds()), "request timeout (in seconds)")
	pf.StringP("data-dir", "d", a.config.DataDir, "data directory")
	pf.StringP("config", "c", "", "path to JSON config file")

	root.AddCommand(
		a.signupCmd(),
		a.signinCmd(),
		a.logoutCmd(),
		a.meCmd(),
		a.usageCmd(),
		a.checkoutCmd(),
		a.avatarCmd(),
	)
	return root
}

// Execute runs the CLI with os.Args.
func (a *App) Execute(ctx context.Context) error {
	root := a.NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// credentials takes the email from flag or prompt and always prompts for
// the password.
func (a *App) credentials(email string) (string, []byte, error) {
	if email == "" {
		var err error
		email, err = getSimpleText(a.reader, "Enter email", a.out)
		if err != nil {
			return "", nil, err
		}
	}
	password, err := getPassword(a.out)
	if err != nil {
		return "", nil, err
	}
	return email, password, nil
}

func (a *App) signupCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := a.credentials(email)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(password)

			s, err := a.api.Signup(cmd.Context(), name, email, string(password))
			if err != nil {
				return err
			}
			if err := a.saveSession(cmd.Context(), s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed up as %s (%s, %d trial credits)\n", s.User.Email, s.User.Plan, s.User.TrialRemaining)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *App) signinCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := a.credentials(email)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(password)

			s, err := a.api.Signin(cmd.Context(), email, string(password))
			if err != nil {
				return err
			}
			if err := a.saveSession(cmd.Context(), s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", s.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if sess, err := a.store.Load(ctx); err == nil && sess.RefreshToken != "" {
				if err := a.api.Signout(ctx, sess.RefreshToken); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "server signout failed: %v\n", err)
				}
			}
			if err := a.store.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (a *App) meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withToken(cmd.Context(), func(token string) error {
				u, err := a.api.Me(cmd.Context(), token)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "id:      %s\n", u.ID)
				fmt.Fprintf(w, "email:   %s\n", u.Email)
				if u.Name != "" {
					fmt.Fprintf(w, "name:    %s\n", u.Name)
				}
				if u.AvatarURL != "" {
					fmt.Fprintf(w, "avatar:  %s\n", u.AvatarURL)
				}
				fmt.Fprintf(w, "plan:    %s\n", u.Plan)
				fmt.Fprintf(w, "credits: %d\n", u.TrialRemaining)
				return nil
			})
		},
	}
}

func (a *App) usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect or spend generation credits",
	}
	cmd.AddCommand(
		a.usageHistoryCmd(),
		&cobra.Command{
			Use:   "check",
			Short: "Show whether a generation is allowed",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withToken(cmd.Context(), func(token string) error {
					u, err := a.api.UsageCheck(cmd.Context(), token)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "allowed: %t, plan: %s, credits: %d\n", u.Allowed, u.Plan, u.TrialRemaining)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "consume",
			Short: "Spend one trial credit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withToken(cmd.Context(), func(token string) error {
					n, err := a.api.UsageConsume(cmd.Context(), token)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "credits left: %d\n", n)
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *App) usageHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent credit spending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withToken(cmd.Context(), func(token string) error {
				events, err := a.api.UsageHistory(cmd.Context(), token, limit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(events) == 0 {
					fmt.Fprintln(w, "No usage yet")
					return nil
				}
				for _, e := range events {
					fmt.Fprintf(w, "%s  %-8s left: %d\n", e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.RemainingAfter)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of entries to show")
	return cmd
}

func (a *App) checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout",
		Short: "Print a checkout link for the pro plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withToken(cmd.Context(), func(token string) error {
				url, err := a.api.Checkout(cmd.Context(), token)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Open to upgrade: %s\n", url)
				return nil
			})
		},
	}
}

func (a *App) avatarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "avatar",
		Short: "Manage the profile avatar",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "upload <image>",
		Short: "Upload an image file and set it as the avatar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			contentType := http.DetectContentType(data)

			return a.withToken(cmd.Context(), func(token string) error {
				up, err := a.api.AvatarUploadURL(cmd.Context(), token)
				if err != nil {
					return err
				}
				if err := a.upload(cmd.Context(), up.URL, contentType, data); err != nil {
					return err
				}
				if err := a.api.UpdateAvatar(cmd.Context(), token, up.PublicURL); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Avatar set to %s\n", up.PublicURL)
				return nil
			})
		},
	})
	return cmd
}
