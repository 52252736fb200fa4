package embeddings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned when the embedding backend cannot be reached,
// either because the circuit breaker is open or the call itself failed.
// Callers treat it as transient and may retry with backoff.
var ErrUnavailable = errors.New("embedding provider unavailable")

// resilientProvider guards a provider with a circuit breaker and a rate
// limiter. Batch alignment hammers the embeddings API from several workers
// at once; without the breaker a dead backend turns every record into a
// slow timeout, and without the limiter a large batch trips provider-side
// rate limits.
type resilientProvider struct {
	base    Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewResilient wraps a provider with failure protection. The breaker opens
// after 3 consecutive failures and allows probes again after 30 seconds.
// EMBEDDINGS_RPS caps outbound request rate (default 10/s, burst 2x).
func NewResilient(base Provider) Provider {
	if base == nil {
		return nil
	}
	rps := 10.0
	if v := strings.TrimSpace(os.Getenv("EMBEDDINGS_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	settings := gobreaker.Settings{
		Name:        "embeddings-" + base.Name(),
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &resilientProvider{
		base:    base,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps*2)),
	}
}

func (p *resilientProvider) Name() string    { return p.base.Name() }
func (p *resilientProvider) Dimensions() int { return p.base.Dimensions() }

func (p *resilientProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.base.Embed(ctx, inputs)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open for %s", ErrUnavailable, p.base.Name())
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.([][]float32), nil
}
