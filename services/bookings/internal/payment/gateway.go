package payment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Charge is one authorization attempt handed to a gateway.
type Charge struct {
	Amount   float64
	Currency string
	Label    string
	Method   Method
	Network  string
	Phone    string
	Metadata map[string]string
}

// Result is all the core ever reads back from a gateway.
type Result struct {
	Approved  bool
	Reference string
	Reason    string
}

type Gateway interface {
	Authorize(ctx context.Context, charge Charge) (Result, error)
}

// NewReference returns an opaque "PS-" payment reference.
func NewReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("PS-%d-%s", now.UnixMilli(), suffix)
}

// SimulatedGateway stands in for a live processor when no credential is
// configured: fixed latency, approval with probability SuccessRate.
type SimulatedGateway struct {
	Latency     time.Duration
	SuccessRate float64

	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func NewSimulatedGateway(latency time.Duration, successRate float64) *SimulatedGateway {
	return &SimulatedGateway{
		Latency:     latency,
		SuccessRate: successRate,
		rnd:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		now:         time.Now,
	}
}

func (g *SimulatedGateway) Authorize(ctx context.Context, charge Charge) (Result, error) {
	if g.Latency > 0 {
		timer := time.NewTimer(g.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.Lock()
	roll := g.rnd.Float64()
	g.mu.Unlock()

	if roll >= g.SuccessRate {
		return Result{Approved: false, Reason: "declined by issuer"}, nil
	}
	return Result{Approved: true, Reference: NewReference(g.now())}, nil
}
