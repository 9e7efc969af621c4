package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/flwrctl/internal/protocol"
)

// Round records one instruction and the response sent for it.
type Round struct {
	Seq         uint64
	Stream      int
	Instruction string
	Response    string
	Code        protocol.Code
	Oversize    bool
	ReceivedAt  time.Time
	StartedAt   time.Time
	SentAt      time.Time
	LastError   string
}

// Duration is the time from dispatch to send.
func (r Round) Duration() time.Duration {
	if r.SentAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.SentAt.Sub(r.StartedAt)
}

// RoundLog keeps the most recent rounds of a session, keyed by sequence.
type RoundLog struct {
	mu    sync.RWMutex
	limit int
	seq   uint64
	items map[uint64]Round
}

func NewRoundLog(limit int) *RoundLog {
	if limit <= 0 {
		limit = 1
	}
	return &RoundLog{
		limit: limit,
		items: make(map[uint64]Round),
	}
}

// Begin opens a round and returns its sequence number.
func (l *RoundLog) Begin(stream int, instruction string, receivedAt, startedAt time.Time) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.items[l.seq] = Round{
		Seq:         l.seq,
		Stream:      stream,
		Instruction: instruction,
		ReceivedAt:  receivedAt,
		StartedAt:   startedAt,
	}
	if l.seq > uint64(l.limit) {
		delete(l.items, l.seq-uint64(l.limit))
	}
	return l.seq
}

// Complete records the outcome of round seq. Rounds already evicted are ignored.
func (l *RoundLog) Complete(seq uint64, res protocol.Response, oversize bool, sentAt time.Time, lastErr error) (Round, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[seq]
	if !ok {
		return Round{}, false
	}
	if res != nil {
		item.Response = protocol.ResponseName(res)
		item.Code = protocol.ResponseStatus(res).Code
	}
	item.Oversize = oversize
	if lastErr != nil {
		item.LastError = lastErr.Error()
	} else {
		item.SentAt = sentAt
	}
	l.items[seq] = item
	return item, true
}

func (l *RoundLog) Get(seq uint64) (Round, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	item, ok := l.items[seq]
	return item, ok
}

// Total is the number of rounds ever begun.
func (l *RoundLog) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int(l.seq)
}

// List returns retained rounds in sequence order.
func (l *RoundLog) List() []Round {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Round, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}
