package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Keeper periodically finalizes resolutions whose dispute window closed
// without a dispute. It acts as the operator principal.
type Keeper struct {
	engine   *Engine
	operator common.Address
	interval time.Duration
	logger   *slog.Logger
}

// NewKeeper creates a Keeper. interval defaults to one minute.
func NewKeeper(engine *Engine, operator common.Address, interval time.Duration, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		engine:   engine,
		operator: operator,
		interval: interval,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is cancelled. Call in a goroutine.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick runs one finalization pass and returns how many markets settled.
func (k *Keeper) Tick(ctx context.Context) int {
	res, err := k.engine.FinalizeExpired(ctx, k.operator)
	if err != nil {
		k.logger.ErrorContext(ctx, "keeper: finalize expired failed", slog.String("error", err.Error()))
		return 0
	}
	for i, itemErr := range res.Errors {
		if itemErr != nil {
			k.logger.WarnContext(ctx, "keeper: finalize item failed",
				slog.Int("index", i),
				slog.String("error", itemErr.Error()),
			)
		}
	}
	if res.Succeeded > 0 {
		k.logger.InfoContext(ctx, "keeper: finalized resolutions", slog.Int("count", res.Succeeded))
	}
	return res.Succeeded
}
