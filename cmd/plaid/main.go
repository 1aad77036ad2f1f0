// Command plaid is the engine's entrypoint: it loads configuration, compiles
// every configured module once, wires the shared services (storage, cache,
// outbound API client, rate limiter, delayed message wheel, benchmark sink)
// into the curated host call surface, and serves webhook listeners until
// signalled to stop.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/errgroup"

	"github.com/plaidrun/plaid/internal/benchmark"
	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/cache"
	"github.com/plaidrun/plaid/internal/config"
	"github.com/plaidrun/plaid/internal/hostapi"
	"github.com/plaidrun/plaid/internal/httpgateway"
	"github.com/plaidrun/plaid/internal/kv"
	"github.com/plaidrun/plaid/internal/logging"
	"github.com/plaidrun/plaid/internal/module"
	"github.com/plaidrun/plaid/internal/ratelimit"
	"github.com/plaidrun/plaid/internal/respcache"
	"github.com/plaidrun/plaid/internal/sandbox"
	"github.com/plaidrun/plaid/internal/source/timer"
	"github.com/plaidrun/plaid/internal/webhook"
	"github.com/plaidrun/plaid/internal/wheel"

	"github.com/redis/go-redis/v9"
)

// shutdownGrace bounds how long the bus and wheel are given to drain
// in-flight work once the root context is cancelled (spec.md §5).
const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "./resources/plaid.toml", "path to the engine's TOML configuration file")
	secretsPath := flag.String("secrets", "./private-resources/secrets.json", "path to the JSON secrets file interpolated into the configuration")
	testModule := flag.String("test-module", "", "run this module once in test mode (host calls that would cause external side effects return ErrTestMode) instead of serving")
	testChannel := flag.String("test-channel", "test", "channel label attached to the synthetic event delivered to --test-module")
	testPayload := flag.String("test-payload", "", "path to a file whose bytes are delivered as the event payload for --test-module (empty payload if unset)")
	flag.Parse()

	if *testModule != "" {
		if err := runTest(*configPath, *secretsPath, *testModule, *testChannel, *testPayload); err != nil {
			fmt.Fprintln(os.Stderr, "plaid:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath, *secretsPath); err != nil {
		fmt.Fprintln(os.Stderr, "plaid:", err)
		os.Exit(1)
	}
}

// runTest builds the same engine dependency graph as run but, instead of
// serving, compiles the configured modules, invokes one of them exactly
// once through sandbox.Executor.RunTest, and prints whatever it left in
// its response slot. This is the activation path for the module-config
// TestModeAllowed flag that spec.md §9 leaves as an implementer's Open
// Question: a module author exercises their module against the real
// loader/sandbox/host-surface wiring without risking a real external
// call, since callAPI refuses every API dispatch with ErrTestMode for the
// duration of a RunTest invocation.
func runTest(configPath, secretsPath, moduleName, channel, payloadPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath, secretsPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(
		logging.WithLevel(logging.ParseLevel(cfg.Logging.Level)),
		withFormat(cfg.Logging.Format),
	)

	registryHolder := &registryHolder{}
	sink := benchmark.New(log)
	executor := sandbox.NewExecutor(log, sink, cfg.ExecutionThreads)

	storageBackend, err := newStorageBackend(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}
	appKey, err := storageAppKey(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage app key: %w", err)
	}
	var quotaBytes int64
	if cfg.Storage != nil {
		quotaBytes = cfg.Storage.QuotaBytes
	}
	store := kv.New(storageBackend, appKey, quotaBytes)
	respCache := cache.New()
	apiClient := webhook.New(namespaceConfigs(cfg.APIs))
	limiter := ratelimit.New(nil)
	msgWheel := wheel.New(noopSubmitter{}, wheel.WithLogger(log))

	surface := hostapi.New(log, registryHolder, store, respCache, apiClient, limiter, msgWheel, noopEmitter{})

	runtimePool := sandbox.NewRuntimePool(ctx, surface)
	runtimeFor := func(mcfg module.Config) (wazero.Runtime, error) {
		return runtimePool.RuntimeFor(mcfg.MemoryPagesLimit)
	}
	loader := module.NewLoader(runtimeFor, surface)

	moduleConfigs := make([]module.Config, 0, len(cfg.Loading))
	for _, mc := range cfg.Loading {
		moduleConfigs = append(moduleConfigs, module.Config{
			Name:                    mc.Name,
			Path:                    mc.Path,
			Channels:                mc.Channels,
			FuelLimit:               mc.FuelLimit,
			MemoryPagesLimit:        mc.MemoryPagesLimit,
			TestModeAllowed:         mc.TestModeAllowed,
			PersistentResponse:      mc.PersistentResponse,
			LogbacksAllowedOverride: mc.LogbacksAllowedOverride,
			InvocationTimeout:       mc.InvocationTimeout(),
			AllowedAPIMethods:       mc.AllowedAPIMethods,
			StorageQuotaBytes:       mc.StorageQuotaBytes,
		})
	}

	registry, err := loader.LoadAll(ctx, moduleConfigs)
	if err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	registryHolder.set(registry)

	mod := registry.Get(moduleName)
	if mod == nil {
		return fmt.Errorf("test module %q is not configured", moduleName)
	}

	var payload []byte
	if payloadPath != "" {
		payload, err = os.ReadFile(payloadPath)
		if err != nil {
			return fmt.Errorf("reading test payload: %w", err)
		}
	}

	event := bus.New(channel, payload, bus.Source{Label: "test-mode"}, nil, bus.LimitedBudget(0))
	inst, err := executor.RunTest(ctx, mod, event)
	if err != nil {
		return fmt.Errorf("test invocation of %q: %w", moduleName, err)
	}

	fmt.Printf("module %q fuel used: %d, elapsed: %s\n", moduleName, inst.FuelUsed(), inst.Elapsed())
	if resp := inst.Response(); resp != nil {
		fmt.Printf("response (%d bytes):\n%s\n", len(resp), resp)
	} else {
		fmt.Println("response: (none)")
	}
	return nil
}

// noopEmitter discards log_back emissions during a test invocation: the
// event is carrying a Limited(0) budget so log_back would already be
// refused, but a module could still race a goroutine; noopEmitter keeps
// that always-safe rather than relying solely on the budget check.
type noopEmitter struct{}

func (noopEmitter) TrySubmit(bus.Event) error { return nil }

// noopSubmitter satisfies wheel.Submitter for a test invocation, which
// has no running bus to release matured delayed messages into.
type noopSubmitter struct{}

func (noopSubmitter) Submit(context.Context, bus.Event) error { return nil }

func run(configPath, secretsPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath, secretsPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(
		logging.WithLevel(logging.ParseLevel(cfg.Logging.Level)),
		withFormat(cfg.Logging.Format),
	)

	registryHolder := &registryHolder{}

	sink := benchmark.New(log)
	executor := sandbox.NewExecutor(log, sink, cfg.ExecutionThreads)

	eventBus := bus.New(registryHolder, executor,
		bus.WithQueueCapacity(cfg.LogQueueSize),
		bus.WithWorkers(cfg.ExecutionThreads),
		bus.WithLogger(log),
	)

	storageBackend, err := newStorageBackend(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}
	appKey, err := storageAppKey(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage app key: %w", err)
	}
	var quotaBytes int64
	if cfg.Storage != nil {
		quotaBytes = cfg.Storage.QuotaBytes
	}
	store := kv.New(storageBackend, appKey, quotaBytes)

	respCache := cache.New()

	apiClient := webhook.New(namespaceConfigs(cfg.APIs))
	limiter := ratelimit.New(nil)

	msgWheel := wheel.New(eventBus, wheel.WithLogger(log))

	surface := hostapi.New(log, registryHolder, store, respCache, apiClient, limiter, msgWheel, eventBus)

	runtimePool := sandbox.NewRuntimePool(ctx, surface)
	runtimeFor := func(mcfg module.Config) (wazero.Runtime, error) {
		return runtimePool.RuntimeFor(mcfg.MemoryPagesLimit)
	}
	loader := module.NewLoader(runtimeFor, surface)

	moduleConfigs := make([]module.Config, 0, len(cfg.Loading))
	for _, mc := range cfg.Loading {
		moduleConfigs = append(moduleConfigs, module.Config{
			Name:                    mc.Name,
			Path:                    mc.Path,
			Channels:                mc.Channels,
			FuelLimit:               mc.FuelLimit,
			MemoryPagesLimit:        mc.MemoryPagesLimit,
			TestModeAllowed:         mc.TestModeAllowed,
			PersistentResponse:      mc.PersistentResponse,
			LogbacksAllowedOverride: mc.LogbacksAllowedOverride,
			InvocationTimeout:       mc.InvocationTimeout(),
			AllowedAPIMethods:       mc.AllowedAPIMethods,
			StorageQuotaBytes:       mc.StorageQuotaBytes,
		})
	}

	registry, err := loader.LoadAll(ctx, moduleConfigs)
	if err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	registryHolder.set(registry)

	ruleInvoker := httpgateway.NewRuleInvoker(registryHolder, executor)
	pipeline := respcache.New(respCache, ruleInvoker)
	gateway := httpgateway.New(log, eventBus, pipeline)

	for addr, listener := range cfg.Webhooks {
		if listener.ListenAddress != "" {
			addr = listener.ListenAddress
		}
		entries := make(map[string]httpgateway.Entry, len(listener.Webhooks))
		for path, w := range listener.Webhooks {
			entries[path] = toGatewayEntry(path, w)
		}
		gateway.AddListener(addr, entries)
	}

	timerSource := timer.New(log, eventBus)
	for _, d := range cfg.Data {
		if d.Type != "timer" {
			continue
		}
		if err := timerSource.Add(d.Schedule, d.Channel, d.Label); err != nil {
			return fmt.Errorf("schedule timer %q: %w", d.Label, err)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return sink.Run(egCtx) })
	eg.Go(func() error { return msgWheel.Start(egCtx) })
	eg.Go(func() error { return gateway.Run(egCtx) })
	eg.Go(func() error {
		timerSource.Start()
		<-egCtx.Done()
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := gateway.Stop(); err != nil {
			log.Warn("gateway stop failed", "error", err)
		}
		if err := timerSource.Stop(shutdownCtx); err != nil {
			log.Warn("timer source stop failed", "error", err)
		}
		if err := msgWheel.Stop(); err != nil {
			log.Warn("wheel stop failed", "error", err)
		}
		if err := eventBus.Stop(shutdownCtx); err != nil {
			log.Warn("bus stop failed", "error", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}

	log.Info("plaid stopped")
	return nil
}

// registryHolder bridges the loader's post-load *module.Registry into the
// services that need a lookup at construction time, before that registry
// exists (the host surface and rule invoker are wired before LoadAll runs,
// since the loader itself needs the surface to validate guest imports).
type registryHolder struct {
	reg *module.Registry
}

func (h *registryHolder) set(reg *module.Registry) { h.reg = reg }

func (h *registryHolder) Get(name string) *module.Module {
	if h.reg == nil {
		return nil
	}
	return h.reg.Get(name)
}

func (h *registryHolder) ModulesForChannel(channel string) []bus.Dispatchable {
	if h.reg == nil {
		return nil
	}
	return h.reg.ModulesForChannel(channel)
}

func withFormat(format string) logging.Option {
	if format == "text" {
		return logging.WithTextFormatter()
	}
	return logging.WithJSONFormatter()
}

func newStorageBackend(sc *config.StorageConfig) (kv.Backend, error) {
	if sc == nil || sc.Backend == "" || sc.Backend == "memory" {
		return kv.NewMemoryBackend(), nil
	}
	if sc.Backend != "redis" {
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
	client := redis.NewClient(&redis.Options{Addr: sc.RedisAddr})
	return kv.NewRedisBackend(client, "plaid:kv:"), nil
}

func storageAppKey(sc *config.StorageConfig) ([]byte, error) {
	if sc == nil || sc.AppKeyHex == "" {
		return kv.GenerateKey()
	}
	key, err := hex.DecodeString(sc.AppKeyHex)
	if err != nil {
		return nil, fmt.Errorf("app_key_hex: %w", err)
	}
	return key, nil
}

func namespaceConfigs(apis map[string]config.APIConfig) map[string]webhook.NamespaceConfig {
	out := make(map[string]webhook.NamespaceConfig, len(apis))
	for name, a := range apis {
		out[name] = webhook.NamespaceConfig{
			BaseURL:         a.BaseURL,
			Secret:          a.Secret,
			Timeout:         time.Duration(a.TimeoutSeconds) * time.Second,
			MaxRetries:      a.MaxRetries,
			BreakerFailures: a.BreakerFailures,
			BreakerCooldown: time.Duration(a.BreakerCooldownSeconds) * time.Second,
		}
	}
	return out
}

func toGatewayEntry(path string, w config.WebhookEntry) httpgateway.Entry {
	entry := httpgateway.Entry{
		Path:    path,
		LogType: w.LogType,
		Headers: w.Headers,
	}
	if w.Label != nil {
		entry.Label = *w.Label
	}
	budget := logbackBudget(w.EffectiveLogbacksAllowed())
	entry.LogbacksAllowed = &budget
	if w.GetMode != nil {
		gm := httpgateway.GetMode{
			Response: toResponseMode(w.GetMode.ResponseMode),
			Caching:  toCachingMode(w.GetMode.CachingMode),
		}
		entry.GetMode = &gm
	}
	return entry
}

func toResponseMode(rm config.ResponseMode) httpgateway.ResponseMode {
	switch rm.Kind {
	case config.ResponseModeFacebook:
		return httpgateway.ResponseMode{Kind: httpgateway.ResponseFacebook, Facebook: rm.Facebook}
	case config.ResponseModeRule:
		return httpgateway.ResponseMode{Kind: httpgateway.ResponseRule, Rule: rm.Rule}
	default:
		return httpgateway.ResponseMode{Kind: httpgateway.ResponseStatic, Static: rm.Static}
	}
}

func toCachingMode(cm config.CachingMode) respcache.CachingMode {
	switch cm.Kind {
	case config.CachingModeTimed:
		return respcache.CachingMode{Kind: respcache.CachingTimed, Validity: time.Duration(cm.ValiditySeconds) * time.Second}
	case config.CachingModeUsePersistentResponse:
		return respcache.CachingMode{Kind: respcache.CachingUsePersistentResponse, CallOnNone: cm.CallOnNone}
	default:
		return respcache.CachingMode{Kind: respcache.CachingNone}
	}
}

func logbackBudget(limit config.LogbackLimit) bus.LogbackBudget {
	if limit.Kind == config.LogbackUnlimited {
		return bus.UnlimitedBudget()
	}
	return bus.LimitedBudget(limit.N)
}
