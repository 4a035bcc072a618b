package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/typeracer/go/clients/quotable_client"
	"github.com/mcdev12/typeracer/go/internal/race/gateway"
	"github.com/mcdev12/typeracer/go/internal/race/hub"
	"github.com/mcdev12/typeracer/go/internal/race/outbox"
	"github.com/mcdev12/typeracer/go/internal/race/words"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Hub     *hub.Hub
	Gateway *gateway.Service
	Outbox  *outbox.Worker

	// released in reverse order by Close
	closers []func() error
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Word sources → Outbox → Hub → Gateway
	s := &Services{}

	st, closeStore, err := setupStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeStore)

	source, err := s.setupWordSource(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	publisher, err := setupPublisher(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Outbox = outbox.NewWorker(publisher, outbox.DefaultConfig())
	if err := s.Outbox.Start(context.WithoutCancel(ctx)); err != nil {
		publisher.Close()
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, s.Outbox.Stop)

	connections := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	s.Hub = hub.New(cfg.hubConfig(), st, source, connections, hub.WithEventSink(s.Outbox))
	s.closers = append(s.closers, func() error {
		s.Hub.Shutdown()
		return nil
	})

	s.Gateway = gateway.NewService(gateway.Config{
		ConnectionConfig: gateway.DefaultConnectionConfig(),
		PublicURL:        cfg.publicURL,
		AllowedOrigins:   cfg.allowedOrigins,
	}, connections, s.Hub)
	s.closers = append(s.closers, func() error {
		s.Gateway.Stop()
		return nil
	})

	return s, nil
}

// setupWordSource chains the configured sources, ending with the fallback text
func (s *Services) setupWordSource(ctx context.Context, cfg *Config) (words.Source, error) {
	var chain words.Chain

	if cfg.quoteBank {
		pool, err := setupQuotePool(ctx)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error {
			pool.Close()
			return nil
		})
		chain = append(chain, words.NewPostgresSource(pool))
	}
	if cfg.quotable {
		chain = append(chain, words.NewQuotableSource(quotable_client.NewQuotableClient(cfg.quotableURL)))
	}
	if cfg.quoteFile != "" {
		fileSource, err := words.NewFileSource(cfg.quoteFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load quote file: %w", err)
		}
		chain = append(chain, fileSource)
	}
	if cfg.fallbackText != "" {
		chain = append(chain, words.NewStaticSource(cfg.fallbackText))
	}

	log.Info().Int("sources", len(chain)).Msg("word sources configured")
	return chain, nil
}

func setupPublisher(ctx context.Context, cfg *Config) (outbox.EventPublisher, error) {
	if cfg.natsURL == "" {
		log.Info().Msg("no NATS URL configured, race events will be logged")
		return outbox.LogPublisher{}, nil
	}

	jsConfig := outbox.DefaultJetStreamConfig()
	jsConfig.URL = cfg.natsURL
	publisher, err := outbox.NewJetStreamPublisher(ctx, jsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	return publisher, nil
}

// Close releases everything setupServices acquired, newest first
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to release service")
		}
	}
	s.closers = nil
}
