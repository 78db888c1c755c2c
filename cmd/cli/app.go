package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/consent-keeper/internal/config"
	"github.com/and161185/consent-keeper/internal/crypto/clientcrypto"
	"github.com/and161185/consent-keeper/internal/errs"
	"github.com/and161185/consent-keeper/internal/idkey"
	"github.com/and161185/consent-keeper/internal/limiter"
	"github.com/and161185/consent-keeper/internal/migrate"
	"github.com/and161185/consent-keeper/internal/render"
	"github.com/and161185/consent-keeper/internal/repository"
	"github.com/and161185/consent-keeper/internal/repository/file"
	"github.com/and161185/consent-keeper/internal/repository/postgres"
	redisarea "github.com/and161185/consent-keeper/internal/repository/redis"
	"github.com/and161185/consent-keeper/internal/service"
)

// Reveal throttling window and block duration.
const (
	revealWindow = 15 * time.Minute
	revealBlock  = 15 * time.Minute
)

// backend is the opened storage; close releases it.
type backend struct {
	area    repository.Area
	limiter limiter.Limiter
	close   func()
}

// openBackend connects the configured store.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		b := &backend{area: postgres.NewArea(db, cfg.Area), close: db.Close}
		if cfg.RevealMaxFailures > 0 {
			b.limiter = limiter.NewPG(db.Pool, revealWindow, cfg.RevealMaxFailures, revealBlock)
		}
		return b, nil
	case config.StoreRedis:
		client, err := redisarea.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		return &backend{area: redisarea.NewArea(client, cfg.Area), close: func() { _ = client.Close() }}, nil
	default:
		a, err := file.New(cfg.Dir, cfg.Area)
		if err != nil {
			return nil, err
		}
		return &backend{area: a, close: func() {}}, nil
	}
}

// newSealer wires the pipeline from cfg.
func newSealer(ctx context.Context, cfg config.Config, log *zap.Logger) (*service.Sealer, func(), error) {
	cipher, err := clientcrypto.ParseCipherName(cfg.Cipher)
	if err != nil {
		return nil, nil, err
	}
	style, err := idkey.ParseIDStyle(cfg.IDStyle)
	if err != nil {
		return nil, nil, err
	}
	engine, err := render.LoadFontEngine(cfg.Font)
	if err != nil {
		return nil, nil, err
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	storeOpts := []repository.MapStoreOption{repository.WithLogger(log.Named("store"))}
	if cfg.Locking {
		storeOpts = append(storeOpts, repository.WithLocking())
	}
	renderOpts := []render.Option{render.WithEngine(engine), render.WithLogger(log.Named("render"))}
	if cfg.GlyphWrap {
		renderOpts = append(renderOpts, render.WithGlyphWrap())
	}
	log.Debug("pipeline configured",
		zap.String("store", string(cfg.Store)), zap.String("area", cfg.Area),
		zap.String("cipher", string(cipher)), zap.String("idStyle", string(style)),
		zap.Bool("locking", cfg.Locking))

	sealerOpts := []service.Option{service.WithLogger(log.Named("sealer"))}
	if b.limiter != nil {
		sealerOpts = append(sealerOpts, service.WithLimiter(b.limiter))
	}
	s := service.NewSealer(
		repository.NewMapStore(b.area, storeOpts...),
		clientcrypto.NewRecordCodec(cipher),
		idkey.New(idkey.WithStyle(style)),
		render.New(renderOpts...),
		sealerOpts...,
	)
	return s, b.close, nil
}
