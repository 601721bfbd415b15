// Package suggest is the prediction core: it always asks the local n-gram
// model, consults the remote service when the availability monitor and the
// response cache allow, and merges both rankings into one list.
package suggest

import (
	"context"
	"time"

	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/bastiangx/nextword/pkg/remote"
)

// LocalModel is the local language model.
type LocalModel interface {
	// RankLocal never fails; a cold model yields an empty list.
	RankLocal(c predict.Context, maxResults int) predict.RankedList

	// Observe reinforces a confirmed word sequence.
	Observe(words []string)
}

// RemoteFetcher calls the prediction service. Errors carry a remote.Kind.
type RemoteFetcher interface {
	Fetch(ctx context.Context, req remote.Request) (predict.RankedList, error)
}

// Availability gates remote calls.
type Availability interface {
	// IsRemoteUsable must not block.
	IsRemoteUsable() bool

	// ReportFailure feeds back a failed remote call.
	ReportFailure(kind remote.Kind)

	// UpdateConfig applies a reloaded online switch and probe interval.
	UpdateConfig(enabled bool, interval time.Duration)
}

// ResponseCache stores successful remote results.
type ResponseCache interface {
	Get(c predict.Context, vocabulary string) (predict.RankedList, bool)
	Put(c predict.Context, vocabulary string, list predict.RankedList)
	SetTTL(ttl time.Duration)
	Resize(capacity int)
	// Purge drops every entry.
	Purge()
}
