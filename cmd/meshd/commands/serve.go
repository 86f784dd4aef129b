package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/meshkit-ai/meshkit/agent"
	"github.com/meshkit-ai/meshkit/config"
	"github.com/meshkit-ai/meshkit/gateway"
	"github.com/meshkit-ai/meshkit/logging"
	"github.com/meshkit-ai/meshkit/model"
	"github.com/meshkit-ai/meshkit/model/anthropic"
	"github.com/meshkit-ai/meshkit/model/openai"
	"github.com/meshkit-ai/meshkit/server"
	"github.com/meshkit-ai/meshkit/session"
	"github.com/meshkit-ai/meshkit/tool"
)

var (
	flagConfig string
	flagEnv    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve one agent over HTTP (and optionally NATS)",
	Long: `Serve starts the agent described by the configuration file and keeps
it running until SIGINT or SIGTERM.

Example:
  meshd serve --config deploy/calculations-agent.toml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "agent.toml", "Path to the agent configuration file")
	serveCmd.Flags().StringVar(&flagEnv, "env-file", "", "Optional .env file with provider credentials")
}

func runServe(cmd *cobra.Command, args []string) error {
	if flagEnv != "" {
		if err := godotenv.Load(flagEnv); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", flagEnv, err)
		}
	} else {
		// A .env next to the binary is picked up when present.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging)

	store, err := buildStore(cfg.Store)
	if err != nil {
		return err
	}

	mdl, err := buildModel(cfg.Model)
	if err != nil {
		return err
	}

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL, nats.Name("meshd/"+cfg.Agent.Name))
		if err != nil {
			return fmt.Errorf("failed to connect to nats at %s: %w", cfg.NATS.URL, err)
		}
		defer natsConn.Close()
	}

	tools, err := buildTools(cfg, natsConn, logger)
	if err != nil {
		return err
	}

	rt, err := agent.New(cfg.Agent.Name, cfg.Agent.Description, mdl, cfg.Guards.Guards(),
		func(o *agent.Options) {
			o.Instruction = agent.NewInstructionFromText(cfg.Agent.Instruction)
			o.Tools = tools
			o.Store = store
			o.Logger = logger
		},
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if natsConn != nil {
		responder := gateway.NewNATSResponder(natsConn, cfg.Agent.Name, rt, func(o *gateway.NATSOptions) {
			if cfg.NATS.SubjectPrefix != "" {
				o.SubjectPrefix = cfg.NATS.SubjectPrefix
			}
			o.Logger = logger
		})
		if err := responder.Start(ctx); err != nil {
			return err
		}
		defer responder.Stop()
	}

	listen := cfg.Server.Listen
	if listen == "" {
		listen = ":8080"
	}
	srv := server.New(listen, rt, func(o *server.Options) { o.Logger = logger })

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("meshd.shutdown", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

func buildLogger(cfg config.LoggingConfig) logging.Logger {
	lcfg := logging.DefaultConfig()
	switch cfg.Level {
	case "debug":
		lcfg.Level = logging.LogLevelDebug
	case "warn":
		lcfg.Level = logging.LogLevelWarn
	case "error":
		lcfg.Level = logging.LogLevelError
	case "", "info":
		lcfg.Level = logging.LogLevelInfo
	}
	if cfg.Format != "" {
		lcfg.Format = cfg.Format
	}
	return logging.New(lcfg)
}

func buildStore(cfg config.StoreConfig) (session.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return session.NewSQLiteStore(cfg.Path)
	default:
		return session.NewInMemoryStore(), nil
	}
}

func buildModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	case "openai", "":
		return openai.New(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

func buildTools(cfg *config.Config, natsConn *nats.Conn, logger logging.Logger) ([]tool.Tool, error) {
	var tools []tool.Tool

	for _, name := range cfg.Agent.Tools {
		switch name {
		case "calculator":
			tools = append(tools, tool.NewCalculator())
		case "extract_document":
			tools = append(tools, tool.NewDocumentExtractor())
		default:
			return nil, fmt.Errorf("unknown built-in tool %q", name)
		}
	}

	for _, m := range cfg.MCP {
		tools = append(tools, tool.NewMCPTool(m.Name, m.Description,
			map[string]any{"type": "object", "properties": map[string]any{
				"input": map[string]any{"type": "string", "description": "Input for the remote tool"},
			}, "required": []string{"input"}},
			m.ServerURL,
			func(o *tool.MCPOptions) {
				if m.RemoteName != "" {
					o.RemoteName = m.RemoteName
				}
			},
		))
	}

	if len(cfg.Peers) == 0 {
		return tools, nil
	}

	gw, err := buildGateway(cfg, natsConn, logger)
	if err != nil {
		return nil, err
	}

	for _, p := range cfg.Peers {
		timeout, err := p.ParseTimeout()
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool.NewPeerAgentTool(p.Name, p.Description, gw, func(o *tool.PeerOptions) {
			if timeout > 0 {
				o.Timeout = timeout
			}
		}))
	}

	return tools, nil
}

func buildGateway(cfg *config.Config, natsConn *nats.Conn, logger logging.Logger) (gateway.Gateway, error) {
	if natsConn != nil {
		return gateway.NewNATSGateway(natsConn, func(o *gateway.NATSOptions) {
			if cfg.NATS.SubjectPrefix != "" {
				o.SubjectPrefix = cfg.NATS.SubjectPrefix
			}
			o.Logger = logger
		}), nil
	}

	registry := map[string]string{}
	for _, p := range cfg.Peers {
		if p.Endpoint == "" {
			return nil, fmt.Errorf("peer %q needs an endpoint when nats is not configured", p.Name)
		}
		registry[p.Name] = p.Endpoint
	}

	return gateway.NewHTTPGateway(registry, func(o *gateway.HTTPOptions) { o.Logger = logger }), nil
}
