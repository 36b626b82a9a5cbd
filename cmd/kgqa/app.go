package main

import (
	"context"
	"fmt"

	"kgqa_agent/internal/agents/graphquery"
	"kgqa_agent/internal/agents/hybrid"
	"kgqa_agent/internal/agents/reasoning"
	"kgqa_agent/internal/config"
	"kgqa_agent/internal/events"
	"kgqa_agent/internal/executor"
	"kgqa_agent/internal/fanout"
	"kgqa_agent/internal/graphstore"
	"kgqa_agent/internal/orche"
	"kgqa_agent/internal/planner"
	"kgqa_agent/internal/retrieval"
	"kgqa_agent/internal/router"
	"kgqa_agent/internal/session"
	conversationsummary "kgqa_agent/internal/summary"
	"kgqa_agent/internal/telemetry"
	"kgqa_agent/internal/tools"
	"kgqa_agent/pkg/logger"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/elastic/go-elasticsearch/v7"
)

// app owns every long-lived dependency of a command.
type app struct {
	cfg      *config.Config
	pipeline *orche.Pipeline
	sessions *session.Store
	graph    *graphstore.Store
	prom     *telemetry.Metrics
	emitter  *events.ChannelEmitter
	consumer *events.ESConsumer
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func build(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, prom: telemetry.NewMetrics()}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	var es *elasticsearch.Client
	if cfg.SearchEnabled() {
		es, err = elasticsearch.NewClient(elasticsearch.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create elasticsearch client: %w", err)
		}
	} else {
		logger.Warnf("elasticsearch is not configured; semantic retrieval is disabled")
	}
	metrics := logger.NewMetrics(es, "")

	a.graph = graphstore.New(graphstore.Config{
		URI:      cfg.Neo4j.URI,
		User:     cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	})
	if err := a.graph.Open(ctx); err != nil {
		return nil, err
	}

	reg := router.NewRegistry()
	kit, err := tools.NewKit(ctx, tools.NewLookupTools(a.graph)...)
	if err != nil {
		return nil, fmt.Errorf("build lookup tools: %w", err)
	}
	kit.Register(reg)

	limit := cfg.Executor.FanoutLimit
	if limit <= 0 {
		limit = 64
	}
	fanOpts := []fanout.Option{
		fanout.WithPool(gopool.NewPool("kgqa-branches", int32(limit), gopool.NewConfig())),
		fanout.WithMetrics(a.prom),
		fanout.WithEventMetrics(metrics),
	}

	gq, err := graphquery.New(ctx, cm, a.graph,
		graphquery.WithMaxVariants(cfg.Executor.MaxVariants),
		graphquery.WithMaxResultTokens(cfg.Executor.MaxResultTokens),
		graphquery.WithFanOut(fanOpts...),
		graphquery.WithCallbackES(es),
	)
	if err != nil {
		return nil, err
	}
	rs, err := reasoning.New(ctx, cm, reasoning.WithCallbackES(es))
	if err != nil {
		return nil, err
	}
	caps := executor.Capabilities{GraphQuery: gq, Reasoning: rs, Utilities: kit}
	if es != nil {
		searcher, err := retrieval.New(es, cfg.Elasticsearch.Index)
		if err != nil {
			return nil, err
		}
		hy, err := hybrid.New(ctx, cm, searcher,
			hybrid.WithTopK(cfg.Executor.TopK),
			hybrid.WithMaxVariants(cfg.Executor.MaxVariants),
			hybrid.WithFanOut(fanOpts...),
			hybrid.WithCallbackES(es),
		)
		if err != nil {
			return nil, err
		}
		caps.Semantic = hy
	} else {
		// not offered to the planner; Validate remaps hybrid steps to reasoning
		reg.Unregister(router.HybridTool)
	}

	var em events.Emitter = events.NopEmitter{}
	if es != nil {
		a.emitter = events.NewChannelEmitter(256)
		a.consumer = events.NewESConsumer(es, cfg.Elasticsearch.EventsIndex)
		a.consumer.Start(a.emitter)
		em = a.emitter
	}

	ex, err := executor.New(reg, caps,
		executor.WithMaxErrors(cfg.Executor.MaxErrors),
		executor.WithMetrics(metrics),
		executor.WithTelemetry(a.prom),
	)
	if err != nil {
		return nil, err
	}
	pl, err := planner.New(ctx, cm, reg,
		planner.WithEmitter(em),
		planner.WithMetrics(metrics),
		planner.WithCallbackES(es),
	)
	if err != nil {
		return nil, err
	}

	if a.sessions, err = session.OpenStore(cfg.Session.DBPath); err != nil {
		return nil, err
	}
	compactor, err := conversationsummary.New(ctx, &conversationsummary.Config{
		Model:                    cm,
		MaxTokensBeforeSummary:   cfg.Session.MaxHistoryTokens,
		MaxTokensForRecentRounds: cfg.Session.RecentHistoryTokens,
	})
	if err != nil {
		return nil, err
	}
	a.pipeline, err = orche.New(pl, ex, reg,
		orche.WithEmitter(em),
		orche.WithRecorder(a.sessions),
		orche.WithCompactor(compactor),
		orche.WithMetrics(metrics),
		orche.WithTelemetry(a.prom),
	)
	if err != nil {
		return nil, err
	}
	logger.Infof("ready: %d tools, model %s", len(reg.Names()), cfg.LLM.Model)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.emitter != nil {
		a.emitter.Close()
		<-a.consumer.Done()
	}
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			logger.Warnf("close neo4j: %v", err)
		}
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			logger.Warnf("close session store: %v", err)
		}
	}
}
