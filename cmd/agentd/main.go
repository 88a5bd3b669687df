package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"OnChainAgents/internal/agent"
	"OnChainAgents/internal/api"
	"OnChainAgents/internal/capability"
	"OnChainAgents/internal/config"
	"OnChainAgents/internal/events"
	"OnChainAgents/internal/identity"
	"OnChainAgents/internal/knowledge"
	"OnChainAgents/internal/llm"
	"OnChainAgents/internal/llm/gemini"
	"OnChainAgents/internal/llm/openai"
	"OnChainAgents/internal/observability/metrics"
	"OnChainAgents/internal/planner"
	"OnChainAgents/internal/storage/mysql"
	"OnChainAgents/internal/storage/redis"
	"OnChainAgents/internal/web3"
	"OnChainAgents/internal/web3/provider"
	"OnChainAgents/pkg/logger"

	"github.com/shopspring/decimal"
)

// main 是代理服务的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agents.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	creds, err := config.LoadCredentials(cfg)
	if err != nil {
		return err
	}
	logger.L().Info("配置加载完成", slog.String("config", configPath), slog.Any("credentials", creds))

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	chains, err := provider.NewRegistry(ctx, cfg.Web3, time.Duration(cfg.Agent.ReceiptTimeoutSeconds)*time.Second)
	if err != nil {
		return err
	}
	defer chains.Close()
	chain, err := chains.DefaultClient()
	if err != nil {
		return err
	}

	store, err := openIdentityStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	vaultOpts, err := fundingOptions(creds)
	if err != nil {
		return err
	}
	vault, err := identity.NewVault(store, chain, creds.WalletPassphrase, vaultOpts...)
	if err != nil {
		return err
	}

	llmClient, err := createLLMClient(ctx, cfg, creds)
	if err != nil {
		return err
	}

	guides, err := knowledge.LoadGuides(cfg.Agent.KnowledgePath, 3)
	if err != nil {
		return err
	}
	artifacts, err := web3.LoadArtifacts(cfg.Web3.ArtifactsDir)
	if err != nil {
		return err
	}

	publisher, err := events.Open(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.L().Warn("关闭事件发布器失败", slog.Any("error", err))
		}
	}()

	m := metrics.New()
	plan := planner.New(
		planner.NewLLMOracle(llmClient, cfg.LLM.Model, cfg.LLM.Temperature, guides),
		planner.WithTimeout(time.Duration(cfg.Agent.PlanTimeoutSeconds)*time.Second),
	)
	pool := agent.NewPool(plan, agent.FromVault(vault), agent.BindingConfig{
		Client:      llmClient,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxSteps:    cfg.Agent.MaxSteps,
		Guides:      guides,
		Env:         capability.Env{Artifacts: artifacts},
	}, agent.WithEvents(publisher), agent.WithMetrics(m))

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Pool:       pool,
		Dispatcher: agent.NewDispatcher(pool),
		Identities: vault,
		Chain:      chain,
		Metrics:    m,
	})

	logger.L().Info("agentd 已就绪",
		slog.String("network", chain.Network().Name),
		slog.String("identity_store", cfg.Storage.IdentityStore.Driver),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("events", cfg.Events.Driver))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openIdentityStore(ctx context.Context, cfg *config.Config) (identity.Store, error) {
	sc := cfg.Storage.IdentityStore
	switch sc.Driver {
	case "", "file":
		return identity.NewFileStore(sc.Dir)
	case "mysql":
		return mysql.NewIdentityStore(ctx, mysql.Config{DSN: sc.DSN})
	case "redis":
		return redis.NewIdentityStore(ctx, redis.Config{
			Address:  sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("未知的身份存储驱动: %s", sc.Driver)
	}
}

func fundingOptions(creds config.Credentials) ([]identity.VaultOption, error) {
	var opts []identity.VaultOption
	if creds.FaucetPrivateKey != "" {
		key, err := identity.ParseKey(creds.FaucetPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("解析 FAUCET_PRIVATE_KEY 失败: %w", err)
		}
		opts = append(opts, identity.WithFaucet(key, decimal.Zero))
	}
	if creds.SponsorPrivateKey != "" {
		key, err := identity.ParseKey(creds.SponsorPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("解析 SPONSOR_PRIVATE_KEY 失败: %w", err)
		}
		opts = append(opts, identity.WithSponsor(key))
	}
	return opts, nil
}

func createLLMClient(ctx context.Context, cfg *config.Config, creds config.Credentials) (llm.Client, error) {
	var client llm.Client
	switch cfg.LLM.Provider {
	case "", "openai":
		c, err := openai.NewClient(openai.Config{
			APIKey:  creds.OpenAIAPIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		client = c
	case "gemini":
		c, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:  creds.GeminiAPIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
	return llm.NewRateLimited(client, cfg.LLM.RequestsPerMinute, cfg.LLM.Burst,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second), nil
}
