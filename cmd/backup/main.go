package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bananaclash/internal/config"
	"bananaclash/internal/database"
	"bananaclash/internal/logger"
	"bananaclash/internal/service"
)

func main() {
	_ = godotenv.Load()
	cobra.CheckErr(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	root := &cobra.Command{
		Use:           "backup",
		Short:         "Export or import the BananaClash shared state",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	fs := root.PersistentFlags()
	fs.String("database-type", "", "database type: sqlite, postgres or mysql (env: DATABASE_TYPE)")
	fs.String("db-path", "", "SQLite database path (env: DB_PATH)")
	fs.String("database-url", "", "PostgreSQL or MySQL connection URL (env: DATABASE_URL)")
	bindFlags(v, fs, map[string]string{
		"database-type": "DATABASE_TYPE",
		"db-path":       "DB_PATH",
		"database-url":  "DATABASE_URL",
	})

	root.AddCommand(newExportCmd(v), newImportCmd(v))
	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}

// bindFlags lets set flags override the matching environment keys
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

// open loads config, connects and migrates
func open(v *viper.Viper) (*config.Config, *database.DB, zerolog.Logger, error) {
	cfg := config.FromViper(v)
	log := logger.New(cfg.Env, cfg.LogLevel)

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return nil, nil, log, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		db.Close()
		return nil, nil, log, fmt.Errorf("failed to run migrations: %w", err)
	}
	return cfg, db, log, nil
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	var output string
	var upload bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every live document to a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, log, err := open(v)
			if err != nil {
				return err
			}
			defer db.Close()

			if output == "" {
				output = fmt.Sprintf("backup_%s.json", time.Now().Format("20060102_150405"))
			}
			if dir := filepath.Dir(output); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}

			log.Info().Str("path", output).Msg("Exporting state")
			n, err := service.NewBackupService(db, log).Export(cmd.Context(), output)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			info, err := os.Stat(output)
			if err != nil {
				return err
			}
			log.Info().Int("documents", n).Int64("bytes", info.Size()).Msg("Export complete")

			if upload || cfg.BackupS3Bucket != "" {
				if cfg.BackupS3Bucket == "" {
					return fmt.Errorf("--upload needs BACKUP_S3_BUCKET")
				}
				return uploadBackup(cmd.Context(), cfg, output, log)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: backup_YYYYMMDD_HHMMSS.json)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the export to BACKUP_S3_BUCKET")
	return cmd
}

func uploadBackup(ctx context.Context, cfg *config.Config, path string, log zerolog.Logger) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	key := "bananaclash/" + filepath.Base(path)
	_, err = s3.NewFromConfig(awsCfg).PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(cfg.BackupS3Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}
	log.Info().Str("bucket", cfg.BackupS3Bucket).Str("key", key).Msg("Uploaded backup")
	return nil
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	var input string
	var replace, yes bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import documents from a JSON backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(input); err != nil {
				return fmt.Errorf("input file: %w", err)
			}
			if replace && !yes && !confirm(cmd) {
				fmt.Fprintln(cmd.OutOrStdout(), "Import cancelled")
				return nil
			}

			_, db, log, err := open(v)
			if err != nil {
				return err
			}
			defer db.Close()

			log.Info().Str("path", input).Bool("replace", replace).Msg("Importing state")
			n, err := service.NewBackupService(db, log).Import(cmd.Context(), input, replace)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			log.Info().Int("documents", n).Msg("Import complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "backup file to import (required)")
	cmd.Flags().BoolVar(&replace, "replace", false, "delete existing state and sessions first (destructive)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the --replace confirmation")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func confirm(cmd *cobra.Command) bool {
	fmt.Fprint(cmd.OutOrStdout(), "WARNING: this deletes all existing state. Type 'yes' to confirm: ")
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.TrimSpace(line) == "yes"
}
