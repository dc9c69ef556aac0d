package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/bitpesa/bitpesa/internal/app"
	s3blob "github.com/bitpesa/bitpesa/internal/blob/s3"
	"github.com/bitpesa/bitpesa/internal/config"
	"github.com/bitpesa/bitpesa/internal/crypto"
	"github.com/bitpesa/bitpesa/internal/store/postgres"
)

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chain instance in the configured mode",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger.Info("bitpesad starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", *configPath),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			if err := application.Run(c.Context()); err != nil {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("bitpesad stopped")
			return nil
		},
	}
}

func migrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations and exit",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate: database driver is %q, not postgres", cfg.Database.Driver)
			}
			client, err := postgres.New(c.Context(), postgres.ClientConfig{
				DSN:      cfg.Database.DSN,
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				Database: cfg.Database.Database,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				SSLMode:  cfg.Database.SSLMode,
				MaxConns: cfg.Database.PoolMaxConns,
				MinConns: cfg.Database.PoolMinConns,
			})
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer client.Close()

			if err := client.RunMigrations(c.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func configCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", *configPath, err)
			}
			redacted := config.RedactedConfig(cfg)
			if err := toml.NewEncoder(c.OutOrStdout()).Encode(redacted); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(c.ErrOrStderr(), "\n%v\n", err)
			}
			return nil
		},
	}
}

func encryptKeyCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Seal a relayer private key into a password-protected key file",
		Long: "Reads a hex private key from BITPESA_RELAY_PRIVATE_KEY or stdin and the password\n" +
			"from BITPESA_RELAY_KEY_PASSWORD, then writes the encrypted key file.",
		RunE: func(c *cobra.Command, _ []string) error {
			keyHex := os.Getenv("BITPESA_RELAY_PRIVATE_KEY")
			if keyHex == "" {
				line, err := bufio.NewReader(c.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("encrypt-key: read key from stdin: %w", err)
				}
				keyHex = strings.TrimSpace(line)
			}
			password := os.Getenv("BITPESA_RELAY_KEY_PASSWORD")
			if password == "" {
				return errors.New("encrypt-key: BITPESA_RELAY_KEY_PASSWORD must be set")
			}

			pk, err := crypto.ParseHexKey(keyHex)
			if err != nil {
				return fmt.Errorf("encrypt-key: %w", err)
			}
			sealed, err := crypto.EncryptKey(pk, password)
			if err != nil {
				return fmt.Errorf("encrypt-key: %w", err)
			}
			if err := os.WriteFile(out, sealed, 0o600); err != nil {
				return fmt.Errorf("encrypt-key: write %s: %w", out, err)
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s for relayer %s\n", out, crypto.NewSignerFromKey(pk).Address().Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "relayer.key.json", "where to write the encrypted key file")
	return cmd
}

func archiveCommand(configPath *string) *cobra.Command {
	archive := &cobra.Command{
		Use:   "archive",
		Short: "Inspect the S3 archive",
	}
	archive.AddCommand(&cobra.Command{
		Use:   "list [positions|wills|bridge]",
		Short: "List archived objects, optionally for one record kind",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", *configPath, err)
			}
			client, err := s3blob.New(c.Context(), s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				return err
			}
			prefix := "archive/"
			if len(args) == 1 {
				prefix += args[0] + "/"
			}
			objects, err := s3blob.NewReader(client).List(c.Context(), prefix)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED")
			for _, o := range objects {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Path, o.Size, o.LastModified.UTC().Format("2006-01-02T15:04:05Z"))
			}
			return tw.Flush()
		},
	})
	return archive
}
