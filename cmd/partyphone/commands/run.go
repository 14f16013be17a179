package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AustinMutschler/partyphone/cmd/partyphone/internal/config"
	"github.com/AustinMutschler/partyphone/pkg/ari"
	"github.com/AustinMutschler/partyphone/pkg/persona"
	"github.com/AustinMutschler/partyphone/pkg/phone"
	"github.com/AustinMutschler/partyphone/pkg/schedule"
	"github.com/AustinMutschler/partyphone/pkg/voice"
)

var flagConfig string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the phone system",
	Long: `Run the phone system from a config file.

Connects to Asterisk, registers every persona and condition line, and
starts working through persona schedules. Runs until SIGINT or SIGTERM.

Example:
  partyphone run --config /etc/partyphone/config.yaml`,
	RunE: runSystem,
}

func init() {
	runCmd.Flags().StringVarP(&flagConfig, "config", "c", "config.yaml", "config file path")
	rootCmd.AddCommand(runCmd)
}

func runSystem(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutting down...")
		cancel()
	}()

	store, err := schedule.NewBadger(schedule.BadgerOptions{Dir: cfg.Store.Dir})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ariClient := ari.NewHTTPClient(cfg.ARI.URL, cfg.ARI.Username, cfg.ARI.Password)
	defer ariClient.Close()

	network := phone.NewNetwork(ariClient, phone.Options{
		App:        cfg.ARI.App,
		MediaHost:  cfg.Phone.MediaHost,
		RecordDir:  cfg.Phone.RecordDir,
		FFmpegPath: cfg.Phone.FFmpegPath,
	})

	voiceOpts := []voice.Option{}
	if cfg.OpenAI.Model != "" {
		voiceOpts = append(voiceOpts, voice.WithModel(cfg.OpenAI.Model))
	}
	dialer := persona.VoiceDialer{Client: voice.NewClient(cfg.OpenAI.APIKey, voiceOpts...)}

	if err := network.Start(ctx); err != nil {
		return fmt.Errorf("start network: %w", err)
	}
	defer network.Stop()

	for _, pc := range cfg.Personas {
		p := persona.New(persona.Config{
			Name:           pc.Name,
			Number:         pc.Number,
			Voice:          pc.Voice,
			InboundPrompt:  pc.InboundPrompt,
			OutgoingNumber: cfg.Phone.OutgoingNumber,
			Schedule:       pc.Schedule,
		}, dialer, store)
		p.Attach(ctx, network)
		logger.Info("Persona attached", "persona", pc.Name, "number", pc.Number, "scheduled", len(pc.Schedule))
	}

	for _, cc := range cfg.Conditions {
		line := persona.NewConditionLine(store, cc.Number, cc.ConditionID, cc.CueFile)
		line.Attach(network)
		logger.Info("Condition line attached", "number", cc.Number, "condition", cc.ConditionID)
	}

	logger.Info("System ready", "app", cfg.ARI.App)
	<-ctx.Done()

	logger.Info("System stopped")
	return nil
}
