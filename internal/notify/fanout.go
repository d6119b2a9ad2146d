// Package notify delivers best-effort notifications: one persisted row per
// recipient plus a real-time push on the recipient's topic.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/metrics"
	"github.com/sells-group/prospector/internal/model"
)

// Event is one notification to fan out.
type Event struct {
	Type    model.NotificationType
	Title   string
	Message string
	Link    string
}

// Recipients is the subset of the store the fan-out needs.
type Recipients interface {
	ListUsersByRole(ctx context.Context, role string) ([]model.User, error)
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// Topic returns the per-user push topic.
func Topic(userID string) string { return "user." + userID }

// Fanout runs notification work in tracked goroutines. Callers never see
// delivery errors.
type Fanout struct {
	store Recipients
	pub   Publisher
	wg    sync.WaitGroup
	log   *zap.Logger
}

// NewFanout creates a Fanout. A nil publisher disables pushes.
func NewFanout(st Recipients, pub Publisher) *Fanout {
	if pub == nil {
		pub = Nop{}
	}
	return &Fanout{
		store: st,
		pub:   pub,
		log:   zap.L().With(zap.String("component", "notify")),
	}
}

// NotifyAll notifies every admin. It returns immediately.
func (f *Fanout) NotifyAll(ctx context.Context, ev Event) {
	f.Go(ctx, "notify_all", func(ctx context.Context) error {
		admins, err := f.store.ListUsersByRole(ctx, model.RoleAdmin)
		if err != nil {
			return eris.Wrap(err, "notify: list admins")
		}
		for _, u := range admins {
			f.deliver(ctx, u.ID, ev)
		}
		return nil
	})
}

// NotifyOne notifies a single user. It returns immediately.
func (f *Fanout) NotifyOne(ctx context.Context, userID string, ev Event) {
	f.Go(ctx, "notify_one", func(ctx context.Context) error {
		f.deliver(ctx, userID, ev)
		return nil
	})
}

// Go runs a best-effort task detached from ctx's cancellation. Errors and
// panics are logged.
func (f *Fanout) Go(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.rescue(name)
		if err := fn(ctx); err != nil {
			f.log.Warn("notify: task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until all tracked work has finished.
func (f *Fanout) Wait() { f.wg.Wait() }

// deliver isolates one recipient: a failing row or push, or a panic, does
// not affect other recipients.
func (f *Fanout) deliver(ctx context.Context, userID string, ev Event) {
	defer f.rescue("deliver:" + userID)

	n := &model.Notification{
		UserID:  userID,
		Type:    ev.Type,
		Title:   ev.Title,
		Message: ev.Message,
		Link:    ev.Link,
	}
	err := f.store.CreateNotification(ctx, n)
	metrics.RecordNotification("store", err)
	if err != nil {
		f.log.Warn("notify: create notification failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	err = f.pub.Publish(ctx, Topic(userID), *n)
	metrics.RecordNotification("push", err)
	if err != nil {
		f.log.Warn("notify: push failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (f *Fanout) rescue(task string) {
	if r := recover(); r != nil {
		metrics.RecordNotification("panic", fmt.Errorf("%v", r))
		f.log.Error("notify: recovered panic", zap.String("task", task), zap.Any("panic", r))
	}
}

// List returns a user's notifications, newest first.
func (f *Fanout) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	return f.store.ListNotifications(ctx, userID, unreadOnly, limit)
}

// MarkRead marks one of the user's notifications as read.
func (f *Fanout) MarkRead(ctx context.Context, userID, id string) error {
	return f.store.MarkNotificationRead(ctx, userID, id)
}
