package service

import (
	"maps"
	"sync"

	"github.com/arturoeanton/codequery/internal/domain"
)

// ProgressBroker fans job snapshots out to subscribers, such as SSE streams.
// Slow subscribers miss intermediate snapshots rather than block the job.
type ProgressBroker struct {
	mu   sync.Mutex
	subs map[string][]chan domain.Job
}

// NewProgressBroker creates a broker with no subscribers.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{subs: make(map[string][]chan domain.Job)}
}

// Subscribe returns a channel of snapshots for jobID and a function that
// cancels the subscription. The channel is closed after a terminal snapshot
// or on cancel.
func (b *ProgressBroker) Subscribe(jobID string) (<-chan domain.Job, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan domain.Job, 16)
	b.subs[jobID] = append(b.subs[jobID], ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(jobID, ch) })
	}
}

func (b *ProgressBroker) remove(jobID string, ch chan domain.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[jobID]
	for i, s := range subs {
		if s == ch {
			b.subs[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subs[jobID]) == 0 {
		delete(b.subs, jobID)
	}
}

// Publish sends a copy of job to every subscriber of its ID. Terminal
// snapshots close the subscriptions.
func (b *ProgressBroker) Publish(job *domain.Job) {
	snapshot := *job
	snapshot.Stats.SkipReasons = maps.Clone(job.Stats.SkipReasons)

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[job.ID]
	for _, ch := range subs {
		if snapshot.Terminal() {
			// Terminal snapshots must arrive, so make room for them.
			select {
			case ch <- snapshot:
			default:
				select {
				case <-ch:
				default:
				}
				ch <- snapshot
			}
			close(ch)
			continue
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
	if snapshot.Terminal() {
		delete(b.subs, job.ID)
	}
}
