// Command llmproxy is the entrypoint binary: it loads configuration, wires
// every client/provider/transform/pipeline collaborator built under
// internal/, and serves the HTTP surface. A missing .env file is a warning,
// not a fatal error; a broken config file is fatal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/taipm/llmproxy/internal/clientapi"
	"github.com/taipm/llmproxy/internal/config"
	"github.com/taipm/llmproxy/internal/httpapi"
	"github.com/taipm/llmproxy/internal/httpstore"
	"github.com/taipm/llmproxy/internal/logging"
	"github.com/taipm/llmproxy/internal/pipeline"
	"github.com/taipm/llmproxy/internal/provider"
	"github.com/taipm/llmproxy/internal/provider/anthropic"
	"github.com/taipm/llmproxy/internal/provider/openaicompat"
	"github.com/taipm/llmproxy/internal/provider/vertex"
	"github.com/taipm/llmproxy/internal/router"
	"github.com/taipm/llmproxy/internal/semantic"
	"github.com/taipm/llmproxy/internal/sigcache"
	"github.com/taipm/llmproxy/internal/sse"
	"github.com/taipm/llmproxy/internal/transform"
)

var configPath string

func main() {
	if err := godotenv.Load(); err != nil {
		log := logging.NewStd(logging.LevelInfo)
		log.Warn(context.Background(), "no .env file loaded", logging.F("error", err.Error()))
	}

	root := &cobra.Command{
		Use:   "llmproxy",
		Short: "A dialect-neutral reverse proxy in front of OpenAI, OpenRouter, Vertex and Anthropic",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the proxy's YAML configuration")

	root.AddCommand(serveCmd(), migrateCmd(), searchCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the log store's sqlite schema without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := httpstore.Open(cfg.Logging.DBPath, cfg.Logging.BlobRoot, cfg.Livestore.BatchSize, logging.NewStd(logging.LevelInfo))
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Println("log store schema is up to date at", cfg.Logging.DBPath)
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Full-text search the log store's blob archive via ripgrep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := httpstore.Open(cfg.Logging.DBPath, cfg.Logging.BlobRoot, cfg.Livestore.BatchSize, logging.NewStd(logging.LevelInfo))
			if err != nil {
				return err
			}
			defer store.Close()

			matches, err := store.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range matches {
				fmt.Printf("%s:%d: %s\n", m.Path, m.Line, m.Text)
			}
			return nil
		},
	}
}

func runServe(ctx context.Context) error {
	log := logging.NewStd(logging.LevelInfo)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("llmproxy: loading config: %w", err)
	}

	providers, err := buildProviderRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("llmproxy: wiring providers: %w", err)
	}

	sigStore, err := buildSignatureCache(ctx, log)
	if err != nil {
		return fmt.Errorf("llmproxy: wiring thought-signature cache: %w", err)
	}

	transforms := buildTransformRegistry(log, sigStore)

	r := router.New(cfg.Models)
	clients := clientapi.NewRegistry()

	store, err := httpstore.Open(cfg.Logging.DBPath, cfg.Logging.BlobRoot, cfg.Livestore.BatchSize, log)
	if err != nil {
		return fmt.Errorf("llmproxy: opening log store: %w", err)
	}
	defer store.Close()

	ctrl := pipeline.New(clients, providers, transforms, r)
	ctrl.Log = log
	ctrl.Store = store

	srv := &httpapi.Server{
		Pipeline:  ctrl,
		Exchanges: store,
		Log:       log,
		Streaming: streamingOptions(cfg),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info(ctx, "llmproxy listening", logging.F("addr", addr))
	return http.ListenAndServe(addr, srv.Router())
}

// buildProviderRegistry registers every provider adapter named in the
// config's providers block. Unconfigured providers are simply absent from
// the registry; config.Validate rejects a model definition that references
// one, and provider.Registry.Resolve returns an error for an unregistered key.
func buildProviderRegistry(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if o := cfg.Providers.OpenAI; o != nil {
		registry.Register(openaicompat.New("openai", "openai", o.BaseURL, o.APIKey))
	}
	if o := cfg.Providers.OpenRouter; o != nil {
		registry.Register(openaicompat.New("openrouter", "openai", "https://openrouter.ai/api/v1", o.APIKey))
	}
	if a := cfg.Providers.Anthropic; a != nil {
		registry.Register(anthropic.New(a.BaseURL, a.APIKey))
	}
	if v := cfg.Providers.Vertex; v != nil {
		adapter, err := vertex.New(ctx, vertex.Config{
			ProjectID:        v.ProjectID,
			Location:         v.Location,
			Credentials:      v.Credentials,
			CredentialsPath:  v.CredentialsPath,
			EndpointOverride: v.EndpointOverride,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	return registry, nil
}

// buildSignatureCache prefers a Redis-backed store when REDIS_URL is set,
// falling back to the in-memory store otherwise. The cache is best-effort;
// signatures stored in memory do not survive a restart.
func buildSignatureCache(ctx context.Context, log logging.Logger) (sigcache.Store, error) {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return sigcache.NewRedis(ctx, sigcache.RedisOptions{Addr: url}, log)
	}
	return sigcache.NewMemory(), nil
}

func buildTransformRegistry(log logging.Logger, sigStore sigcache.Store) *transform.Registry {
	reg := transform.NewRegistry()
	reg.Register(semantic.ClampMaxTokens{})
	reg.Register(semantic.EnsureToolCallRequestTransform{})
	reg.Register(semantic.RestoreThoughtSignaturesTransform{Cache: sigStore})
	reg.Register(semantic.EnsureToolCallResponseTransform{})
	reg.Register(semantic.ValidateToolArgumentsTransform{})
	reg.Register(semantic.ExtractThoughtSignaturesTransform{Cache: sigStore})
	reg.Register(semantic.KimiResponseTransform{Log: log})
	reg.Register(semantic.CleanupExtraProperties{})
	reg.Freeze()
	return reg
}

func streamingOptions(cfg *config.Config) sse.Options {
	opts := sse.DefaultOptions()
	if cfg.Streaming.ChunkSize > 0 {
		opts.ChunkSize = cfg.Streaming.ChunkSize
	}
	if cfg.Streaming.Delay > 0 {
		opts.Delay = time.Duration(cfg.Streaming.Delay) * time.Millisecond
	}
	return opts
}
