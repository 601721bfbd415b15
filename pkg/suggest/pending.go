package suggest

import (
	"context"

	"github.com/bastiangx/nextword/pkg/predict"
)

// Pending is a prediction running on its own goroutine.
type Pending struct {
	done   chan struct{}
	result predict.RankedList
}

// PredictAsync starts Predict in the background so an input loop can keep
// going and poll or wait for the answer. After Close the prediction runs
// synchronously before PredictAsync returns.
func (e *Engine) PredictAsync(ctx context.Context, c predict.Context, maxResults int) *Pending {
	p := &Pending{done: make(chan struct{})}
	if !e.track() {
		p.result = e.Predict(ctx, c, maxResults)
		close(p.done)
		return p
	}
	go func() {
		defer e.wg.Done()
		defer close(p.done)
		p.result = e.Predict(ctx, c, maxResults)
	}()
	return p
}

// Done is closed once the result is ready.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the list and true when the prediction has finished.
func (p *Pending) Result() (predict.RankedList, bool) {
	select {
	case <-p.done:
		return p.result, true
	default:
		return nil, false
	}
}

// Wait blocks until the prediction finishes or ctx is done. A prediction
// never outlives the remote budget, so an uncancelled wait always returns.
func (p *Pending) Wait(ctx context.Context) (predict.RankedList, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
