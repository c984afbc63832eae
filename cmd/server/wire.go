package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Skufu/GoTriage/internal/advice"
	"github.com/Skufu/GoTriage/internal/config"
	"github.com/Skufu/GoTriage/internal/history"
	"github.com/Skufu/GoTriage/internal/httpapi"
	"github.com/Skufu/GoTriage/internal/knowledge"
	"github.com/Skufu/GoTriage/internal/metrics"
)

// buildKnowledge loads the JSON tables and, for the postgres source, seeds an
// empty database from them. The returned func releases the cache connection.
func buildKnowledge(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, log *zap.Logger) (knowledge.Repository, func(), error) {
	log = log.Named("knowledge")
	noop := func() {}

	local, err := knowledge.LoadJSON(cfg.Knowledge.DataDir, log)
	if err != nil {
		return nil, noop, fmt.Errorf("load knowledge: %w", err)
	}

	var repo knowledge.Repository = local
	if cfg.Knowledge.Source == config.KnowledgePostgres {
		pg := knowledge.NewPGRepository(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, noop, fmt.Errorf("migrate knowledge: %w", err)
		}
		empty, err := pg.Empty(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("inspect knowledge tables: %w", err)
		}
		if empty {
			diseases, guidelines, risks := local.Tables()
			if err := pg.Seed(ctx, diseases, guidelines, risks); err != nil {
				return nil, noop, fmt.Errorf("seed knowledge: %w", err)
			}
			log.Info("knowledge tables seeded", zap.Int("diseases", len(diseases)))
		}
		repo = pg
	}

	if cfg.Cache.RedisURL == "" {
		return repo, noop, nil
	}
	cache, err := knowledge.NewRedisCache(ctx, cfg.Cache.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, knowledge cache disabled", zap.Error(err))
		return repo, noop, nil
	}
	log.Info("knowledge cache enabled", zap.Duration("ttl", cfg.Cache.TTL))
	return knowledge.NewCachedRepository(repo, cache, cfg.Cache.TTL, log), func() { _ = cache.Close() }, nil
}

func buildGenerator(cfg config.LLMConfig, m *metrics.Collector, log *zap.Logger) *advice.Generator {
	log = log.Named("advice")
	var completer advice.Completer
	if !cfg.MockMode() {
		completer = advice.NewOpenAIClient(cfg, log)
	} else {
		log.Warn("no LLM API key configured, using mock advice")
	}
	return advice.NewGenerator(completer, advice.GeneratorConfig{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, m, log)
}

// buildStore returns the history store for the configured backend. Remote
// backends are wrapped so that failed calls land in the local files.
func buildStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, m *metrics.Collector, log *zap.Logger) (history.Store, error) {
	log = log.Named("history")

	files, err := history.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}

	var primary history.Store
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		pg := history.NewPGStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate history: %w", err)
		}
		primary = pg
	case config.StorageSupabase:
		primary = history.NewSupabaseStore(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey, &http.Client{Timeout: 10 * time.Second})
	default:
		return files, nil
	}

	fb := history.NewFallbackStore(primary, files, log)
	fb.OnPrimaryError = func(op string) {
		m.StorageFallbacks.WithLabelValues(cfg.Storage.Backend, op).Inc()
	}
	return fb, nil
}

func serviceInfo(cfg *config.Config, model string, mock bool) httpapi.Info {
	provider := "openai-compatible"
	if mock {
		provider = "mock"
	}
	return httpapi.Info{
		Name:        "智能医疗导诊系统",
		Version:     version,
		Description: "基于多知识库和AI的医疗导诊服务",
		Features:    []string{"症状匹配", "医疗建议生成", "风险评估", "安全检测", "查询历史", "统计分析"},
		DataSources: []string{"symptom.json", "guideline.json", "disease_info.json"},
		LLMProvider: provider,
		Model:       model,
		MockMode:    mock,
		Knowledge:   cfg.Knowledge.Source,
		Storage:     cfg.Storage.Backend,
	}
}
