package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/antoniostano/taskyon/internal/config"
	"github.com/antoniostano/taskyon/internal/hostbridge"
	"github.com/antoniostano/taskyon/internal/httpapi"
	"github.com/antoniostano/taskyon/internal/llm"
	"github.com/antoniostano/taskyon/internal/observability"
	"github.com/antoniostano/taskyon/internal/tasks"
	"github.com/antoniostano/taskyon/internal/tools"
	"github.com/antoniostano/taskyon/internal/worker"
)

// runtimeSettings holds provider defaults the host can change at runtime
// through a configuration message over the bridge.
type runtimeSettings struct {
	mu      sync.RWMutex
	model   string
	chatAPI string
}

func (s *runtimeSettings) apply(msg hostbridge.ConfigurationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(msg.Model) != "" {
		s.model = strings.TrimSpace(msg.Model)
	}
	if strings.TrimSpace(msg.ChatAPI) != "" {
		s.chatAPI = strings.TrimSpace(msg.ChatAPI)
	}
}

func (s *runtimeSettings) snapshot() (model, chatAPI string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model, s.chatAPI
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	collection, err := tasks.NewCollection(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task collection init failed: %v", err)
	}
	store := tasks.NewTaskStore(collection)
	defer store.Close()

	queue := tasks.NewAsyncQueue[string]()
	factory := tasks.NewFactory(store, queue)

	registry := tools.NewRegistry(store)
	registerBuiltins(registry)

	adapter, err := llm.NewAdapter(llm.Config{
		Mode:    cfg.AdapterMode,
		BaseURL: cfg.ChatBaseURL,
		APIKey:  cfg.ChatAPIKey,
	})
	if err != nil {
		log.Fatalf("llm adapter init failed: %v", err)
	}
	if _, mock := adapter.(*llm.MockAdapter); mock {
		log.Printf("llm adapter: mock (no chat base url configured)")
	} else {
		log.Printf("llm adapter: http (%s)", cfg.ChatBaseURL)
	}

	settings := &runtimeSettings{model: cfg.ChatModel}
	resolve := func(override *tasks.Configuration) (llm.APIConfig, error) {
		model, chatAPI := settings.snapshot()
		out := llm.APIConfig{
			BaseURL:           cfg.ChatBaseURL,
			Model:             model,
			APIKey:            cfg.ChatAPIKey,
			NativeToolCalling: cfg.NativeToolCalling,
			Streaming:         cfg.Streaming,
		}
		if chatAPI != "" {
			out.BaseURL = chatAPI
		}
		if override != nil {
			if strings.TrimSpace(override.Model) != "" {
				out.Model = strings.TrimSpace(override.Model)
			}
			if strings.TrimSpace(override.ChatAPI) != "" {
				out.BaseURL = strings.TrimSpace(override.ChatAPI)
			}
		}
		if out.Model == "" {
			return llm.APIConfig{}, fmt.Errorf("%w: set TASKYON_CHAT_MODEL or send a configuration message", llm.ErrMissingModel)
		}
		return out, nil
	}

	controller := worker.NewController()
	bridge := hostbridge.NewBridge(factory, registry, settings.apply, cfg.RemoteToolTimeout)

	var usage *llm.UsageFetcher
	if strings.TrimSpace(cfg.ChatBaseURL) != "" {
		usage = llm.NewUsageFetcher(cfg.UsageFetchDelay)
		usage.SetRetries(cfg.UsageFetchRetries)
	}

	chat := worker.NewChatHandler(store, adapter, registry, controller, worker.NewPromptSet(), usage, resolve, metrics)
	function := worker.NewFunctionHandler(registry, controller, bridge, cfg.RemoteToolTimeout, metrics)
	synth := worker.NewSynthesizer(factory, controller)

	wrk := worker.NewWorker(store, queue, controller, chat, function, synth, metrics)
	wrk.SetTaskDeadline(cfg.PollDeadline)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go func() {
		if err := wrk.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("worker stopped: %v", err)
		}
	}()

	api := httpapi.New(cfg, store, factory, registry, controller, bridge, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// registerBuiltins installs the tools that need no host to execute.
func registerBuiltins(registry *tools.Registry) {
	must := func(err error) {
		if err != nil {
			log.Fatalf("builtin tool registration failed: %v", err)
		}
	}
	must(registry.Register(tools.Tool{
		Name:        "current_time",
		Description: "Returns the current date and time in RFC 3339 format.",
		Parameters: llm.ParameterSchema{
			Type:       "object",
			Properties: map[string]llm.Property{},
		},
		Function: func(ctx context.Context, args map[string]any) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}))
}
