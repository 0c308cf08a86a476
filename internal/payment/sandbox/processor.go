// Package sandbox is an always-approving processor for local environments.
package sandbox

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/payment/domain"
)

const Name = "sandbox"

type Processor struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewProcessor(genID *snowflake.Node, clk clock.Clock) *Processor {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Processor{genID: genID, clock: clk}
}

func (p *Processor) Name() string { return Name }

func (p *Processor) AttemptPayment(_ context.Context, charge domain.Charge) (domain.Result, error) {
	if err := charge.Validate(); err != nil {
		return domain.Invalid(), nil
	}
	ref := "sbx_"
	if p.genID != nil {
		ref += p.genID.Generate().String()
	}
	return domain.Result{
		Success: true,
		Details: &domain.Details{Reference: ref, Processor: Name, Amount: charge.Amount, ChargedAt: p.clock.Now()},
	}, nil
}

type factory struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewFactory(genID *snowflake.Node, clk clock.Clock) domain.ProcessorFactory {
	return factory{genID: genID, clock: clk}
}

func (f factory) Name() string { return Name }

func (f factory) New() (domain.Processor, error) { return NewProcessor(f.genID, f.clock), nil }
