package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/aatchison/mycroft-core/api"
	"github.com/aatchison/mycroft-core/config"
	"github.com/aatchison/mycroft-core/logging"
)

var (
	cfgFile      string
	whisperModel string
	wavFiles     []string
	pairState    string
	pairToken    string
)

var rootCmd = &cobra.Command{
	Use:   "mycroft-listener",
	Short: "Always-listening voice front end",
	Long: `mycroft-listener captures audio, waits for the wake phrase, sends what
follows to the speech-to-text service and publishes the text on the message bus.`,
	SilenceUsage: true,
	RunE:         runListener,
}

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Request a pairing code, or activate with --token once the code is entered",
	RunE:  runPair,
}

var configCmd = &cobra.Command{
	Use:   "config-init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "mycroft.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		err := config.WriteDefault(afero.NewOsFs(), path)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default mycroft.yaml in . or ~/.mycroft)")
	rootCmd.Flags().StringVarP(&whisperModel, "whisper-model", "m", "", "whisper model file for wake word detection")
	rootCmd.Flags().StringSliceVar(&wavFiles, "wav", nil, "replay these WAV files instead of using the microphone")

	pairCmd.Flags().StringVar(&pairState, "state", "", "pairing state shared between code and activation")
	pairCmd.Flags().StringVar(&pairToken, "token", "", "activation token; omit to request a code")
	_ = pairCmd.MarkFlagRequired("state")

	rootCmd.AddCommand(pairCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	_, err = logging.New(&logging.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console})
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func runListener(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if whisperModel != "" {
		cfg.Whisper.Model = whisperModel
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, afero.NewOsFs(), wavFiles)
	if err != nil {
		return err
	}

	defer app.Close()

	if app.metrics != nil {
		server := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           app.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			_ = server.Shutdown(shutdownCtx)
		}()

		log.Info().Str("listen", cfg.Metrics.Listen).Msg("serving metrics")
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		app.listener.Stop()
	}()

	return app.listener.Run(ctx)
}

func runPair(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, closeStore, err := openIdentity(ctx, cfg, afero.NewOsFs())
	if err != nil {
		return err
	}

	defer closeStore()

	client, err := newAPIClient(cfg, store)
	if err != nil {
		return err
	}

	device, err := api.NewDeviceAPI(client, api.Versions{Core: version})
	if err != nil {
		return err
	}

	if pairToken == "" {
		code, err := device.GetCode(ctx, pairState)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "pairing code: %v\n", code)

		return nil
	}

	paired, err := device.Activate(ctx, pairState, pairToken)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "paired as %s\n", paired.UUID)

	return nil
}
