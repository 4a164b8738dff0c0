package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/timvw/sisqo/internal/config"
	"github.com/timvw/sisqo/internal/evaluator"
	"github.com/timvw/sisqo/internal/events"
	"github.com/timvw/sisqo/internal/fleet"
	"github.com/timvw/sisqo/internal/logging"
	sqotel "github.com/timvw/sisqo/internal/otel"
	"github.com/timvw/sisqo/internal/prompt"
	"github.com/timvw/sisqo/internal/session"
)

// Version is set at build time with -ldflags "-X github.com/timvw/sisqo/cmd.Version=...".
var Version = "dev"

var (
	// Global flags.
	flagConfig     string
	flagLogLevel   string
	flagTransport  string
	flagTimeout    time.Duration
	flagPrompt     string
	flagMore       string
	flagClassifier string
	flagModel      string
	flagBaseURL    string
	flagAPIKey     string
	flagMaxTokens  int64
)

var rootCmd = &cobra.Command{
	Use:   "sisqo",
	Short: "Drive network device command lines over ssh",
	Long: `sisqo logs in to network devices (Cisco IOS style command lines),
runs commands, follows --More-- pagination and returns clean output.

Device output is rendered through a VT100 emulator so cursor movement and
line erasure come out the way they look on a terminal. Configurations can
be parsed into a tree and searched with regular expressions, offline or
straight from a device.

Configuration is loaded from --config, .sisqo.yaml or
~/.config/sisqo/config.yaml; SISQO_* environment variables override it.`,
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default: .sisqo.yaml, then ~/.config/sisqo/config.yaml)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (default: info)")
	pf.StringVar(&flagTransport, "transport", "", "transport: exec (system ssh client) or ssh (built-in)")
	pf.DurationVar(&flagTimeout, "timeout", 0, "how long to wait for a prompt (default: 10s)")
	pf.StringVar(&flagPrompt, "prompt", "", "regex matching the device prompt")
	pf.StringVar(&flagMore, "more", "", "regex matching the pagination marker")
	pf.StringVar(&flagClassifier, "classifier", "", "LLM login prompt classifier: none, anthropic, openai")
	pf.StringVar(&flagModel, "model", "", "LLM model (default: claude-haiku-4-5 for anthropic, gpt-4o-mini for openai)")
	pf.StringVar(&flagBaseURL, "base-url", "", "override LLM API base URL")
	pf.StringVar(&flagAPIKey, "api-key", "", "override LLM API key")
	pf.Int64Var(&flagMaxTokens, "max-tokens", 0, "max completion tokens for the classifier (default: 1024)")
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg        *config.Config
	logger     *log.Logger
	tel        *sqotel.Telemetry
	metrics    *sqotel.Metrics
	classifier prompt.Classifier
	events     *events.Store
	connector  *fleet.Connector
}

// setup loads configuration, applies command-line overrides and wires
// logging, telemetry and the login prompt classifier.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	applyFlags(cmd, cfg)

	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.ConfigFile != "" {
		logger.Debug("config loaded", "file", cfg.ConfigFile)
	}

	sqotel.Version = Version
	tel, err := sqotel.Init(cmd.Context(), sqotel.Config{
		Endpoint:  cfg.OTELEndpoint,
		Headers:   cfg.OTELHeaders,
		Command:   cmd.Name(),
		Transport: cfg.Transport,
		Devices:   len(cfg.Devices),
	})
	if err != nil {
		logger.Warn("otel init failed", "err", err)
	}
	var metrics *sqotel.Metrics
	if tel != nil {
		metrics = tel.Metrics
	}

	classifier, err := buildClassifier(cfg, metrics)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		tel:        tel,
		metrics:    metrics,
		classifier: classifier,
		events:     events.NewStore(0),
	}
	a.connector = &fleet.Connector{
		Config:     cfg,
		Classifier: classifier,
		Logger:     logger,
		Metrics:    metrics,
		Events:     a.events,
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.tel == nil {
		return
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Debug("otel shutdown", "err", err)
	}
}

// applyFlags copies explicitly set global flags onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	strs := map[string]struct {
		dst *string
		val string
	}{
		"log-level":  {&cfg.LogLevel, flagLogLevel},
		"transport":  {&cfg.Transport, flagTransport},
		"prompt":     {&cfg.PromptPattern, flagPrompt},
		"more":       {&cfg.MorePattern, flagMore},
		"classifier": {&cfg.Classifier, flagClassifier},
		"model":      {&cfg.Model, flagModel},
		"base-url":   {&cfg.BaseURL, flagBaseURL},
		"api-key":    {&cfg.APIKey, flagAPIKey},
	}
	for name, s := range strs {
		if f.Changed(name) {
			*s.dst = s.val
		}
	}
	if f.Changed("timeout") {
		cfg.TimeoutDuration = flagTimeout
		cfg.Timeout = flagTimeout.String()
	}
	if f.Changed("max-tokens") {
		cfg.MaxTokens = flagMaxTokens
	}
	cfg.ClassifierDefaults()
}

// buildClassifier returns the login prompt classifier: the built-in
// matchers, backed by an LLM when one is configured.
func buildClassifier(cfg *config.Config, metrics *sqotel.Metrics) (prompt.Classifier, error) {
	builtin := prompt.NewRegistry()
	switch cfg.Classifier {
	case "", "none":
		return builtin, nil
	case "anthropic", "openai":
	default:
		return nil, fmt.Errorf("unknown classifier %q (supported: none, anthropic, openai)", cfg.Classifier)
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classifier %s: no API key found. Set SISQO_API_KEY, AZURE_OPENAI_API_KEY or the provider's key variable", cfg.Classifier)
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultModel(cfg.Classifier)
	}

	// Azure AI Foundry wants "api-key" next to the SDK's own auth header.
	extraHeaders := map[string]string{}
	if os.Getenv("AZURE_RESOURCE_NAME") != "" || config.IsAzureEndpoint(cfg.BaseURL) {
		extraHeaders["api-key"] = cfg.APIKey
	}

	eval, err := evaluator.New(cfg.Classifier, evaluator.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Model:        model,
		MaxTokens:    cfg.MaxTokens,
		ExtraHeaders: extraHeaders,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}
	return prompt.Fallback{Primary: builtin, Secondary: eval}, nil
}

// login connects to the named device and authenticates, entering
// privileged mode when the device or --enable asks for it.
func (a *app) login(ctx context.Context, name string, enable bool) (*session.Session, config.Device, error) {
	d, err := a.cfg.Device(name)
	if err != nil {
		return nil, d, err
	}
	if enable {
		d.Enable = true
	}
	s, err := a.connector.Connect(ctx, d)
	if err != nil {
		return nil, d, err
	}
	if err := a.connector.Login(ctx, s, d); err != nil {
		s.Close()
		return nil, d, err
	}
	return s, d, nil
}
