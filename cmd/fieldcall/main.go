package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	fieldcall "github.com/gridlens/fieldcall"
	"github.com/gridlens/fieldcall/agents"
	"github.com/gridlens/fieldcall/relay"
	"github.com/gridlens/fieldcall/shared"
	"github.com/gridlens/fieldcall/sites"
	"github.com/gridlens/fieldcall/voice"
	"github.com/spf13/cobra"
)

const printerIndentString = "│  "

var (
	flagConfig string
	flagAddr   string
)

func main() {
	root := &cobra.Command{
		Use:           "fieldcall",
		Short:         "Peer call engine for grid-site field inspections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")

	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the signaling rendezvous relay",
		RunE:  runRelay,
	}
	relayCmd.Flags().StringVar(&flagAddr, "addr", ":8787", "listen address")

	root.AddCommand(
		relayCmd,
		&cobra.Command{
			Use:   "call",
			Short: "Start a call as the inspector (caller)",
			RunE:  runCall,
		},
		&cobra.Command{
			Use:   "answer",
			Short: "Run the wearable companion (callee), reading tokens from stdin",
			RunE:  runAnswer,
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*fieldcall.Config, error) {
	if flagConfig == "" {
		return fieldcall.DefaultConfig(), nil
	}
	return fieldcall.LoadConfig(flagConfig)
}

func newLogger(cfg *fieldcall.Config) shared.LoggerAdapter {
	return shared.NewFileLogger(
		cfg.Log.File,
		cfg.Log.MaxSizeMB,
		cfg.Log.MaxBackups,
		cfg.Log.MaxAgeDays,
		cfg.Log.Compress,
	)
}

func signalCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalCtx()
	defer stop()
	server, err := relay.NewServer(newLogger(cfg))
	if err != nil {
		return err
	}
	return server.ListenAndServe(ctx, flagAddr)
}

func runCall(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx, stop := signalCtx()
	defer stop()

	channel, err := fieldcall.DialRelay(ctx, logger, cfg.RelayURL, cfg.SessionID, fieldcall.RoleCaller)
	if err != nil {
		return err
	}
	defer func() { _ = channel.Close() }()

	media, err := fieldcall.NewMediaEndpoint(logger)
	if err != nil {
		return err
	}
	transport, err := fieldcall.NewPeerTransport(ctx, logger, cfg.ICEServers, media)
	if err != nil {
		return err
	}
	session, err := fieldcall.NewCallSession(ctx, logger, fieldcall.RoleCaller, channel, transport, media)
	if err != nil {
		return err
	}
	vm, err := fieldcall.NewCallViewModel(logger, session)
	if err != nil {
		return err
	}
	defer func() { _ = vm.End() }()

	if err := vm.Start(ctx); err != nil {
		return err
	}
	fmt.Println("📞 Calling... press Ctrl-C to hang up.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return nil
		case state := <-vm.States():
			fmt.Println("call state:", state)
		}
	}
}

func runAnswer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx, stop := signalCtx()
	defer stop()

	channel, err := fieldcall.DialRelay(ctx, logger, cfg.RelayURL, cfg.SessionID, fieldcall.RoleCallee)
	if err != nil {
		return err
	}
	defer func() { _ = channel.Close() }()

	printer, err := shared.NewPrinter(printerIndentString, shared.NewWriteCloser(os.Stdout))
	if err != nil {
		return err
	}

	siteList := make([]voice.Site, 0, len(cfg.Sites))
	for _, s := range cfg.Sites {
		siteList = append(siteList, voice.Site{
			Label:       s.Label,
			Reference:   s.Reference,
			DisplayName: s.DisplayName,
		})
	}

	var lookup sites.Lookup
	if cfg.SiteServiceURL != "" {
		lookup, err = sites.NewClient(logger, cfg.SiteServiceURL)
		if err != nil {
			return err
		}
	} else {
		lookup = sites.Static{}
	}

	// Stand-in recognizer: each stdin line is one recognized token.
	tokens := make(chan string)
	go func() {
		defer close(tokens)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case tokens <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	agent := new(agents.WearableAgent)
	done, err := agent.Spawn(ctx, logger, cfg, channel, siteList, lookup, printer, tokens, nil)
	if err != nil {
		return err
	}
	defer func() { _ = agent.Close() }()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}
