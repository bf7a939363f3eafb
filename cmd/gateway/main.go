package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/app"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/service"
	"github.com/aussiebroadwan/tenantgate/pkg/idx"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "tenantgate",
		Short:         "Multi-tenant authentication gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd(), hashPasswordCmd(), tenantCmd(), principalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			return application.Run()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(_ app.Config, s *app.Stores) error {
				if err := s.DB.ApplyMigrations(); err != nil {
					return err
				}
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh tokens once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(func(cfg app.Config, s *app.Stores) error {
				hk := service.NewHousekeepingService(app.NewLedger(cfg, s), app.NewLogger(cfg), cfg.HousekeepingInterval)
				n, err := hk.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("deleted=%d\n", n)
				return nil
			})
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			hasher, err := app.NewHasher(cfg)
			if err != nil {
				return err
			}
			pw, err := readPassword()
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(pw)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func tenantCmd() *cobra.Command {
	tenants := &cobra.Command{Use: "tenant", Short: "Manage tenants"}

	var id, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an active tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			if name == "" {
				name = id
			}
			return withStores(func(_ app.Config, s *app.Stores) error {
				return s.DB.Tenants().CreateTenant(cmd.Context(), domain.Tenant{ID: id, Name: name})
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "Tenant id, e.g. acme")
	create.Flags().StringVar(&name, "name", "", "Display name (defaults to the id)")

	setStatus := func(use string, status domain.TenantStatus) *cobra.Command {
		var target string
		c := &cobra.Command{
			Use:   use,
			Short: fmt.Sprintf("Mark a tenant %s", status),
			RunE: func(cmd *cobra.Command, args []string) error {
				if target == "" {
					return errors.New("--id is required")
				}
				return withStores(func(_ app.Config, s *app.Stores) error {
					return s.DB.Tenants().UpdateTenantStatus(cmd.Context(), target, status)
				})
			},
		}
		c.Flags().StringVar(&target, "id", "", "Tenant id")
		return c
	}

	tenants.AddCommand(create, setStatus("suspend", domain.TenantSuspended), setStatus("activate", domain.TenantActive))
	return tenants
}

func principalCmd() *cobra.Command {
	principals := &cobra.Command{Use: "principal", Short: "Manage principals"}

	var tenantID, login string
	var roles []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a principal; the password is read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" || login == "" {
				return errors.New("--tenant and --login are required")
			}
			pw, err := readPassword()
			if err != nil {
				return err
			}
			return withStores(func(cfg app.Config, s *app.Stores) error {
				hasher, err := app.NewHasher(cfg)
				if err != nil {
					return err
				}
				hash, err := hasher.Hash(pw)
				if err != nil {
					return err
				}
				p := domain.Principal{
					ID:           idx.New(),
					TenantID:     tenantID,
					Login:        login,
					PasswordHash: hash,
					Roles:        roles,
				}
				if err := s.DB.Principals().CreatePrincipal(cmd.Context(), p); err != nil {
					return err
				}
				fmt.Println(p.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&tenantID, "tenant", "", "Tenant the principal belongs to")
	create.Flags().StringVar(&login, "login", "", "Login, unique within the tenant")
	create.Flags().StringSliceVar(&roles, "roles", []string{"user"}, "Comma separated roles")

	var revokeID string
	revoke := &cobra.Command{
		Use:   "revoke-sessions",
		Short: "Revoke every refresh family of a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if revokeID == "" {
				return errors.New("--id is required")
			}
			return withStores(func(cfg app.Config, s *app.Stores) error {
				n, err := app.NewLedger(cfg, s).RevokeAllForSubject(cmd.Context(), revokeID)
				if err != nil {
					return err
				}
				fmt.Printf("revoked=%d\n", n)
				return nil
			})
		},
	}
	revoke.Flags().StringVar(&revokeID, "id", "", "Principal id")

	principals.AddCommand(create, revoke)
	return principals
}

// withStores loads config, opens the stores and closes them after fn.
func withStores(fn func(app.Config, *app.Stores) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	s, err := app.OpenStores(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(cfg, s)
}

func readPassword() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}
