package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"carphoto/internal/app"
	"carphoto/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults and applies the
// environment token override.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if token := defaults["disk_token"]; token != "" {
		cfg.Disk.Token = token
	}
	return cfg, nil
}

// newApp reads the config and creates a CarPhotoApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "CarCreate", "PhotoUpload").
func newApp(ctx context.Context, operation string) (*app.CarPhotoApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewCarPhotoApp(ctx, cfg, operation, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "carphoto",
	Short:        "Car photo catalog on a remote disk",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		operator, _ := cmd.Flags().GetString("operator")
		if operator == "" {
			if operator, err = os.Hostname(); err != nil {
				return fmt.Errorf("determining operator: %w", err)
			}
		}

		cfg := config.NewConfig(operator, defaults["base_dir"])
		cfg.Disk.APIURL, _ = cmd.Flags().GetString("api-url")

		token := defaults["disk_token"]
		if token == "" {
			if token, err = readToken(cmd); err != nil {
				return err
			}
		}
		cfg.Disk.Token = token

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration initialized at %s\n", defaults["config_path"])
		fmt.Fprintf(out, "Operator: %s\n", operator)
		fmt.Fprintf(out, "Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

// readToken prompts for the disk token, without echo on a terminal.
func readToken(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Disk token: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration from %s:\n\n", defaults["config_path"])
		fmt.Fprintf(out, "Operator:  %s\n", cfg.Operator)
		fmt.Fprintf(out, "Base Dir:  %s\n", cfg.BaseDir)
		fmt.Fprintf(out, "Log Dir:   %s\n", cfg.LogDir)
		fmt.Fprintf(out, "Disk:      %s %s\n", cfg.Disk.Backend, cfg.Disk.BasePath)
		fmt.Fprintf(out, "Cache:     %s\n", cfg.Database.Type)
		fmt.Fprintf(out, "Regions:   %s\n", regionsLabel(cfg.Regions))
		fmt.Fprintf(out, "Archive:   %s\n", cfg.ArchiveRegion)
		return nil
	},
}

func regionsLabel(regions []string) string {
	if len(regions) == 0 {
		return "(any)"
	}
	return strings.Join(regions, ", ")
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("operator", "", "Identity recorded on writes (default: hostname)")
	configInitCmd.Flags().String("api-url", "", "Remote disk API base URL")
	configCmd.AddCommand(configListCmd)

	regionCmd.AddCommand(regionListCmd)

	carCmd.AddCommand(carCreateCmd)
	carCmd.AddCommand(carShowCmd)
	carCmd.AddCommand(carSlotsCmd)
	carCmd.AddCommand(carArchiveCmd)
	carArchiveCmd.Flags().Bool("yes", false, "Archive without confirmation")

	photoCmd.AddCommand(photoUploadCmd)
	photoUploadCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	photoCmd.AddCommand(photoDeleteCmd)
	photoCmd.AddCommand(photoRenameCmd)
	photoCmd.AddCommand(photoListCmd)

	linkCmd.AddCommand(linkListCmd)
	linkCmd.AddCommand(linkAddCmd)
	linkCmd.AddCommand(linkDeleteCmd)

	slotCmd.AddCommand(slotPublishCmd)

	metricsCmd.AddCommand(metricsServeCmd)
	metricsServeCmd.Flags().String("listen", "", "Listen address (default: metrics.listen_addr)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(regionCmd)
	rootCmd.AddCommand(carCmd)
	rootCmd.AddCommand(photoCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(slotCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(metricsCmd)
}
