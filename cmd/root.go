package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/config"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/launcher"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/logging"
)

const defaultConfigFile = "hyperloop.yaml"

var (
	cfgFile      string
	flagLogLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hyperloop",
		Short:        "Run freqtrade hyperopt repeatedly and keep the best results",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := logging.Setup(logging.Options{Level: flagLogLevel})
			return err
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile, "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error); overrides logging.level")
	root.AddCommand(newRunCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newExtractCmd())
	root.AddCommand(newRescanCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newListCmd())
	return root
}

// readConfig parses the config file without validating it. A missing default
// file yields the built-in defaults; a missing explicit file is an error.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Read(cfgFile)
	if err == nil {
		return cfg, nil
	}
	if f := cmd.Flag("config"); errors.Is(err, os.ErrNotExist) && (f == nil || !f.Changed) {
		return config.Default(), nil
	}
	return nil, err
}

func logLevel(cfg *config.Config) string {
	if flagLogLevel != "" {
		return flagLogLevel
	}
	return cfg.Logging.Level
}

// newLauncher builds the launcher for cfg.Launcher.Mode. It fails when the
// optimizer cannot be started at all, before any run begins.
func newLauncher(cfg *config.Config) (launcher.Launcher, error) {
	switch cfg.Launcher.Mode {
	case config.ModeDocker:
		return launcher.NewDocker(launcher.DockerOptions{
			Image:    cfg.Launcher.Image,
			UserData: cfg.UserDataDir(),
			EnvFile:  cfg.Resolve(cfg.Launcher.EnvFile),
			UserID:   fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		})
	case config.ModeLocal, "":
		return launcher.NewLocal(launcher.LocalOptions{
			Freqtrade: cfg.Launcher.FreqtradeBin,
			Terminal:  cfg.Launcher.Terminal,
			CondaEnv:  cfg.Launcher.CondaEnv,
			EnvFile:   cfg.Resolve(cfg.Launcher.EnvFile),
			WorkDir:   cfg.Paths.ProjectRoot,
			Console:   os.Stdout,
		})
	default:
		return nil, fmt.Errorf("unknown launcher mode %q", cfg.Launcher.Mode)
	}
}
