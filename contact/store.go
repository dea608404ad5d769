//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package contact

import (
	"context"
	"errors"
)

// ErrNoCredentials is returned by an Opener when no service account is configured.
var ErrNoCredentials = errors.New("store credentials missing")

// Store is an append-only record store. One call appends exactly one row.
type Store interface {
	AppendRow(ctx context.Context, values []string) error
}

// Opener connects to a Store. It is called once per submission.
type Opener func(ctx context.Context) (Store, error)

// Recorder receives the outcome of every submission attempt.
// It never sees the submitted name, email or message.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}
