// Package notify adapts the teacher's pkg/events publish/subscribe
// broker into a change-notification channel for the launch engine:
// pkg/launcher publishes HostState/TaskState/JobState deltas as they
// are applied to the State Tracker so external observers (the demo
// CLI, integration tests) can watch a launch progress without polling
// the tracker.
package notify

import (
	"sync"
	"time"

	"github.com/cuemby/tasklaunch/pkg/types"
)

// ChangeKind identifies which part of the state machine changed.
type ChangeKind string

const (
	ChangeHost ChangeKind = "host"
	ChangeTask ChangeKind = "task"
	ChangeJob  ChangeKind = "job"
)

// Change is one state-delta notification.
type Change struct {
	Kind      ChangeKind
	Timestamp time.Time
	NodeIndex int
	TaskID    int
	Host      types.HostState
	Task      types.TaskState
	Job       types.JobState
}

// Subscriber is a channel that receives Changes.
type Subscriber chan Change

// Broker distributes Changes to subscribers, dropping on a full
// subscriber buffer rather than blocking the publisher — publishing
// must never become a back-pressure point for the launch itself.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[Subscriber]bool)}
}

// Subscribe registers a new subscription with a buffered channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish fans c out to every current subscriber, stamping its
// timestamp if unset.
func (b *Broker) Publish(c Change) {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- c:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
