package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"image-converter-go/internal/batch"
	"image-converter-go/internal/codec"
	"image-converter-go/internal/config"
	"image-converter-go/internal/converter"
	"image-converter-go/internal/progress"
	"image-converter-go/internal/statistics"
)

// pipeline is the converter, batch coordinator and progress broker built
// from one configuration.
type pipeline struct {
	conv   *converter.DefaultConverter
	coord  *batch.Coordinator
	broker progress.Broker
	stats  *statistics.Statistics
}

func buildPipeline(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*pipeline, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := codec.New(cfg.Conversion.Codec)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize codec: %w", err)
	}

	broker, err := newBroker(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	stats := statistics.NewStatistics()
	conv := converter.NewDefaultConverter(converter.Options{
		Codec:          c,
		MaxFileBytes:   cfg.MaxFileBytes(),
		AllowedFormats: cfg.Conversion.AllowedFormats,
		Logger:         log,
		Stats:          stats,
	})
	coord := batch.NewCoordinator(conv, broker, batch.Options{
		MaxFiles: cfg.Limits.MaxFiles,
		Workers:  cfg.Conversion.BatchWorkers,
		Logger:   log,
		Stats:    stats,
	})

	log.WithFields(logrus.Fields{
		"codec":     c.Name(),
		"progress":  cfg.Progress.Backend,
		"max_files": cfg.Limits.MaxFiles,
		"workers":   cfg.Conversion.BatchWorkers,
	}).Debug("Conversion pipeline ready")

	return &pipeline{conv: conv, coord: coord, broker: broker, stats: stats}, nil
}

func newBroker(ctx context.Context, cfg *config.Config, log *logrus.Logger) (progress.Broker, error) {
	switch cfg.Progress.Backend {
	case "redis":
		b, err := progress.NewRedisBroker(ctx, progress.RedisConfig{
			Addr:          cfg.Progress.Redis.Addr,
			Password:      cfg.Progress.Redis.Password,
			DB:            cfg.Progress.Redis.DB,
			ChannelPrefix: cfg.Progress.Redis.ChannelPrefix,
			Buffer:        cfg.Progress.Buffer,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect progress broker: %w", err)
		}
		return b, nil
	default:
		return progress.NewHub(cfg.Progress.Buffer, log), nil
	}
}

func (p *pipeline) Close() error {
	return p.broker.Close()
}
