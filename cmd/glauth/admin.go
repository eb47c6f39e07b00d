package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nerrad567/gray-logic-auth/internal/auth"
)

// minPasswordLength matches the API's password rule.
const minPasswordLength = 8

func migrateCmd(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the credential store schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, log, err := loadConfig(cfgPath())
				if err != nil {
					return err
				}
				db, err := openDatabase(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, log, err := loadConfig(cfgPath())
				if err != nil {
					return err
				}
				db, err := openDatabase(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.MigrateDown(cmd.Context()); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "last migration rolled back")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, log, err := loadConfig(cfgPath())
				if err != nil {
					return err
				}
				db, err := openDatabase(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
				defer db.Close()

				applied, pending, err := db.GetMigrationStatus(cmd.Context())
				if err != nil {
					return fmt.Errorf("reading migration status: %w", err)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0) //nolint:mnd // column layout
				fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED")
				for _, m := range applied {
					fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range pending {
					fmt.Fprintf(tw, "%s\tpending\t-\n", m.Version)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

func userCmd(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var (
		username string
		email    string
		roles    []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user (password read from the terminal or stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !auth.IsValidUsername(username) {
				return fmt.Errorf("invalid username %q", username)
			}
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			s, err := openStack(cmd.Context(), cfgPath())
			if err != nil {
				return err
			}
			defer s.close()

			user, err := createUser(cmd.Context(), s.auth, username, email, password, roles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s) with roles %s\n",
				user.Username, user.ID, strings.Join(user.RoleNames(), ","))
			return nil
		},
	}
	create.Flags().StringVarP(&username, "username", "u", "", "login name")
	create.Flags().StringVarP(&email, "email", "e", "", "email address")
	create.Flags().StringSliceVarP(&roles, "roles", "r", nil, "extra roles (login is always granted)")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStack(cmd.Context(), cfgPath())
			if err != nil {
				return err
			}
			defer s.close()

			users, err := s.auth.Repositories().Users.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing users: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0) //nolint:mnd // column layout
			fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tLOGINS\tROLES")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", u.ID, u.Username, u.Email, u.Logins, strings.Join(u.RoleNames(), ","))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func roleCmd(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage role assignments",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "grant <username|email> <role>...",
		Short: "Grant roles to a user",
		Args:  cobra.MinimumNArgs(2), //nolint:mnd // identity plus at least one role
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStack(cmd.Context(), cfgPath())
			if err != nil {
				return err
			}
			defer s.close()

			if err := grantRoles(cmd.Context(), s.auth, args[0], args[1:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", strings.Join(args[1:], ","), args[0])
			return nil
		},
	})
	return cmd
}

func tokensCmd(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain auto-login tokens",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "purge",
			Short: "Delete every expired auto-login token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := openStack(cmd.Context(), cfgPath())
				if err != nil {
					return err
				}
				defer s.close()

				n, err := s.auth.PurgeExpired(cmd.Context())
				if err != nil {
					return fmt.Errorf("purging tokens: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired tokens\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "revoke <username|email>",
			Short: "Delete all auto-login tokens of a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openStack(cmd.Context(), cfgPath())
				if err != nil {
					return err
				}
				defer s.close()

				user, err := s.auth.Repositories().Users.GetByKey(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("looking up %s: %w", args[0], err)
				}
				n, err := s.auth.RevokeTokens(cmd.Context(), user.ID, "cli")
				if err != nil {
					return fmt.Errorf("revoking tokens: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d tokens for %s\n", n, user.Username)
				return nil
			},
		},
	)
	return cmd
}

// createUser hashes the password and stores a user holding the login role
// plus any extra roles named.
func createUser(ctx context.Context, m *auth.Manager, username, email, password string, roleNames []string) (*auth.User, error) {
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if !slices.Contains(roleNames, auth.RoleLogin) {
		roleNames = append(roleNames, auth.RoleLogin)
	}
	roles, err := findRoles(ctx, m, roleNames)
	if err != nil {
		return nil, err
	}
	hash, err := m.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &auth.User{
		Username: username,
		Email:    email,
		Password: hash,
		Roles:    roles,
	}
	if err := m.Repositories().Users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// grantRoles adds the named roles to the user found by username or email.
func grantRoles(ctx context.Context, m *auth.Manager, key string, roleNames []string) error {
	users := m.Repositories().Users
	user, err := users.GetByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", key, err)
	}
	roles, err := findRoles(ctx, m, roleNames)
	if err != nil {
		return err
	}
	if err := users.AddRoles(ctx, user.ID, roles...); err != nil {
		return fmt.Errorf("granting roles: %w", err)
	}
	return nil
}

// findRoles resolves role names, failing on the first unknown one.
func findRoles(ctx context.Context, m *auth.Manager, names []string) ([]auth.Role, error) {
	roles, err := m.Repositories().Roles.FindByNames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}
	for _, name := range names {
		if !slices.ContainsFunc(roles, func(r auth.Role) bool { return r.Name == name }) {
			return nil, fmt.Errorf("%w: %s", auth.ErrRoleNotFound, name)
		}
	}
	return roles, nil
}

// readPassword prompts without echo on a terminal, otherwise reads the
// first line of in.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password given on stdin")
	}
	return line, nil
}
