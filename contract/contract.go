//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"live-queue/domain"
	"live-queue/domain/event"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbound side of one live connection.
// Consume must not block longer than ctx allows.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// Publisher is what mutation use-cases depend on once a change is committed.
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// Broadcaster delivers an event to every live connection and returns how many
// deliveries succeeded.
type Broadcaster interface {
	Broadcast(e event.Event) int
}

// Verifier resolves a bearer credential to a user identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (domain.User, error)
}

// Moderator masks blacklisted words and reports which ones it found.
type Moderator interface {
	Censor(text string) (string, []string)
}
