package outbox

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func TestLogPublisher_Publish(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	publisher := NewLogPublisher(log.NewEntry(logger))

	if err := publisher.Publish(context.Background(), statusChanged("msg-1")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if got := entry.Data["outbox_id"]; got != "msg-1" {
		t.Fatalf("expected outbox_id msg-1, got %v", got)
	}
}

func TestLogPublisher_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLogPublisher(nil).Publish(ctx, statusChanged("msg-1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLogPublisher_DrivesWorker(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{statusChanged("msg-1"), statusChanged("msg-2")}}
	logger, _ := test.NewNullLogger()
	worker := NewWorker(repo, NewLogPublisher(log.NewEntry(logger)))

	if got := worker.ProcessOnce(context.Background()); got != 2 {
		t.Fatalf("expected 2 published messages, got %d", got)
	}
}
