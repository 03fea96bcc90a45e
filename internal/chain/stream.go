package chain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Stream is the lazy, single-consumer, infinite sequence of TangleEvents
// described by the manager's design. It is not restartable: once Run
// returns, the caller is expected to be shutting down.
type Stream struct {
	registry *Registry
	operator common.Address
	logger   *slog.Logger

	baseWait time.Duration
	maxWait  time.Duration

	pollInterval time.Duration
}

// NewStream builds a Stream polling registry for operator's blueprints.
func NewStream(registry *Registry, operator common.Address, baseWait, maxWait time.Duration, logger *slog.Logger) *Stream {
	return &Stream{
		registry:     registry,
		operator:     operator,
		logger:       logger,
		baseWait:     baseWait,
		maxWait:      maxWait,
		pollInterval: 6 * time.Second,
	}
}

// Run feeds TangleEvents to out until ctx is cancelled. RPC disconnects are
// transient: Run reconnects with exponential backoff (base 1s, factor 2,
// cap 32s by default) without closing out, so the Active Set upstream
// never sees a spurious end-of-stream; out is closed only when Run returns.
func (s *Stream) Run(ctx context.Context, out chan<- TangleEvent) error {
	defer close(out)

	bo := NewBackoff(s.baseWait, s.maxWait)
	var lastBlock uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, newLast, err := s.poll(ctx, lastBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			wait := bo.Next()
			s.logger.Warn("chain stream transient error, reconnecting", "error", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		if event != nil {
			select {
			case out <- *event:
			case <-ctx.Done():
				return ctx.Err()
			}
			lastBlock = newLast
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// poll fetches the latest block, and if it advanced past lastBlock, builds
// a full-snapshot TangleEvent containing every log since lastBlock plus the
// complete current set of bound blueprints. On the first poll (lastBlock 0)
// only the head block's logs are read.
func (s *Stream) poll(ctx context.Context, lastBlock uint64) (*TangleEvent, uint64, error) {
	head, err := s.registry.LatestBlock(ctx)
	if err != nil {
		return nil, lastBlock, err
	}
	if head <= lastBlock {
		return nil, lastBlock, nil
	}

	from := lastBlock + 1
	if lastBlock == 0 {
		from = head
	}

	events, err := s.registry.FilterLogs(ctx, from, head)
	if err != nil {
		return nil, lastBlock, err
	}

	snapshot, err := s.registry.Snapshot(ctx, s.operator, head)
	if err != nil {
		return nil, lastBlock, err
	}

	return &TangleEvent{Number: head, Events: events, CurrentBlueprints: snapshot}, head, nil
}
