package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/kitovu/kitovu/internal/config"
	"github.com/kitovu/kitovu/internal/utils"
	"github.com/kitovu/kitovu/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "KITOVU"

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:           "kitovu",
	Short:         "Keep local copies of lecture material in sync",
	Version:       version.Detailed(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		if env := os.Getenv(envPrefix + "_LOG_LEVEL"); env != "" && !cmd.Flags().Changed("log-level") {
			level = env
		}
		return logLevel.UnmarshalText([]byte(level))
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "kitovu config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	closeLog := setupLogging()
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		stop()
		closeLog()
		os.Exit(1)
	}
}

// setupLogging logs to stdout and, when possible, to the log file.
func setupLogging() func() {
	logLevel.Set(slog.LevelInfo)
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	logFile := config.DefaultLogFilePath
	if err := utils.EnsureParent(logFile); err != nil {
		slog.SetDefault(slog.New(stdoutHandler))
		slog.Warn("log file disabled", "error", err)
		return func() {}
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		slog.SetDefault(slog.New(stdoutHandler))
		slog.Warn("log file disabled", "error", err)
		return func() {}
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor adds the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	var closed bool
	return func() {
		if closed {
			return
		}
		closed = true
		logInterceptor.Close()
		file.Close()
	}
}

// resolveConfigPath honors, in order: the --config flag, KITOVU_CONFIG_PATH
// and the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if cfgFlag := cmd.Flag("config"); cfgFlag != nil && cfgFlag.Changed {
		return cfgFlag.Value.String()
	}
	if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath
}

// loadConfig merges defaults, the config file, the environment and the
// flags of cmd, in increasing priority.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	defaults := config.Default()
	v.SetDefault("settings", defaults.SettingsPath)
	v.SetDefault("cache", defaults.CachePath)
	v.SetDefault("history", defaults.HistoryPath)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("keyring", defaults.UseKeyring)

	configPath := resolveConfigPath(cmd)
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	for _, key := range []string{"settings", "cache", "history", "workers"} {
		if flag := cmd.Flags().Lookup(key); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, err
			}
		}
	}
	if noKeyring, err := cmd.Flags().GetBool("no-keyring"); err == nil && noKeyring {
		v.Set("keyring", false)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &config.Config{
		SettingsPath: v.GetString("settings"),
		CachePath:    v.GetString("cache"),
		HistoryPath:  v.GetString("history"),
		Workers:      v.GetInt("workers"),
		UseKeyring:   v.GetBool("keyring"),
		Path:         configPath,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
