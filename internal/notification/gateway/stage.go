package gateway

import (
	"context"

	"github.com/smallbiznis/gigledger/internal/config"
	"github.com/smallbiznis/gigledger/internal/notification/dedup"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
)

// Stage is the rollout stage of the payment notification path.
type Stage string

const (
	StageOff     Stage = "off"
	StageLegacy  Stage = "legacy"
	StageShadow  Stage = "shadow"
	StageHybrid  Stage = "hybrid"
	StageCutover Stage = "cutover"
)

// StageFor derives the stage from the current flags. The kill switch wins over everything.
func StageFor(f config.NotificationFlags) Stage {
	switch {
	case f.KillSwitch:
		return StageOff
	case f.SingleEmitterEnabled && f.DisableLegacyPathForPayments:
		return StageCutover
	case f.SingleEmitterEnabled:
		return StageHybrid
	case f.ShadowMode:
		return StageShadow
	default:
		return StageLegacy
	}
}

// FlagSource exposes the current notification flags.
type FlagSource interface {
	Get() config.NotificationFlags
}

// Emitter is one write strategy for notification candidates.
type Emitter interface {
	Name() string
	Emit(ctx context.Context, ev domain.Event) (dedup.Result, error)
}

// legacyEmitter reads the store on every emission, bypassing the repeat cache.
type legacyEmitter struct {
	engine *dedup.Engine
	opts   dedup.Options
}

func (e *legacyEmitter) Name() string { return "legacy" }

func (e *legacyEmitter) Emit(ctx context.Context, ev domain.Event) (dedup.Result, error) {
	opts := e.opts
	opts.AllowUpgrade = true
	opts.RepeatWindow = 0
	return e.engine.Apply(ctx, ev, opts)
}

// singleEmitter is the quality-scored path with upgrade-in-place.
type singleEmitter struct {
	engine *dedup.Engine
	opts   dedup.Options
}

func (e *singleEmitter) Name() string { return "single" }

func (e *singleEmitter) Emit(ctx context.Context, ev domain.Event) (dedup.Result, error) {
	opts := e.opts
	opts.AllowUpgrade = true
	return e.engine.Apply(ctx, ev, opts)
}

func NewLegacyEmitter(engine *dedup.Engine, opts dedup.Options) Emitter {
	return &legacyEmitter{engine: engine, opts: opts}
}

func NewSingleEmitter(engine *dedup.Engine, opts dedup.Options) Emitter {
	return &singleEmitter{engine: engine, opts: opts}
}
