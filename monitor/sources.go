package monitor

import (
	"context"
	"math/rand"
	"sync"

	"gobridgetracker/types"
)

// ConfirmationSource reports whether the destination side of a transfer is done.
type ConfirmationSource interface {
	HasDestinationConfirmation(ctx context.Context, tx *types.BridgeTransaction) (bool, error)
}

// ETAConfirmations confirms every transfer once its eta has passed.
type ETAConfirmations struct{}

func (ETAConfirmations) HasDestinationConfirmation(context.Context, *types.BridgeTransaction) (bool, error) {
	return true, nil
}

// FaultSource decides whether an overdue transfer fails on this tick.
type FaultSource interface {
	ShouldFail(tx *types.BridgeTransaction) bool
}

type NoFaults struct{}

func (NoFaults) ShouldFail(*types.BridgeTransaction) bool { return false }

// RandomFaults fails an overdue transfer with a fixed probability per tick.
type RandomFaults struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	probability float64
}

func NewRandomFaults(probability float64, seed int64) *RandomFaults {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	return &RandomFaults{
		rnd:         rand.New(rand.NewSource(seed)),
		probability: probability,
	}
}

func (r *RandomFaults) ShouldFail(*types.BridgeTransaction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64() < r.probability
}
