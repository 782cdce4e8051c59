package main

import (
	"fmt"
	"sort"
	"sync"
)

// ThreadID identifies a thread as "channelID:threadTS"
type ThreadID string

// MessageID is the Slack ts of a message; unique within its thread
type MessageID string

// NewThreadID builds the store key for a thread
func NewThreadID(channelID, threadTS string) ThreadID {
	return ThreadID(fmt.Sprintf("%s:%s", channelID, threadTS))
}

// Entry is one recorded numeric contribution
type Entry struct {
	UserID       string
	Value        float64
	Acknowledged bool // At most one reply per message
}

// threadBucket maps message -> entry for one thread on its creation day
type threadBucket map[MessageID]*Entry

// dayTable maps thread -> bucket for one calendar day
type dayTable map[ThreadID]threadBucket

// Store is the in-memory aggregation table: day -> thread -> message -> entry.
// Reads of anything absent count as zero.
type Store struct {
	mu   sync.RWMutex
	days map[DayKey]dayTable
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		days: make(map[DayKey]dayTable),
	}
}

// bucket returns the bucket for a thread, creating it if needed. Caller holds mu.
func (s *Store) bucket(day DayKey, thread ThreadID) threadBucket {
	table, ok := s.days[day]
	if !ok {
		table = make(dayTable)
		s.days[day] = table
	}
	b, ok := table[thread]
	if !ok {
		b = make(threadBucket)
		table[thread] = b
	}
	return b
}

// EnsureThread registers an empty bucket for a thread on its day
func (s *Store) EnsureThread(day DayKey, thread ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bucket(day, thread)
}

// Upsert inserts or replaces the entry for a message. The acknowledged flag
// of an existing entry is left as-is. Returns a copy of the stored entry and
// whether it was newly inserted.
func (s *Store) Upsert(day DayKey, thread ThreadID, msg MessageID, userID string, value float64) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(day, thread)
	if e, ok := b[msg]; ok {
		e.UserID = userID
		e.Value = value
		return *e, false
	}

	e := &Entry{UserID: userID, Value: value}
	b[msg] = e
	return *e, true
}

// Seed inserts an entry only if the message is not already recorded.
// Used by history replay so it never clobbers live state.
func (s *Store) Seed(day DayKey, thread ThreadID, msg MessageID, userID string, value float64, acknowledged bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucket(day, thread)
	if _, ok := b[msg]; ok {
		return false
	}
	b[msg] = &Entry{UserID: userID, Value: value, Acknowledged: acknowledged}
	return true
}

// Remove deletes the entry for a message. Absent entries are a no-op.
func (s *Store) Remove(day DayKey, thread ThreadID, msg MessageID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.days[day][thread]
	if !ok {
		return Entry{}, false
	}
	e, ok := b[msg]
	if !ok {
		return Entry{}, false
	}
	delete(b, msg)
	return *e, true
}

// Acknowledge marks a message as replied to. Only the first call for a
// recorded message returns true.
func (s *Store) Acknowledge(day DayKey, thread ThreadID, msg MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.days[day][thread][msg]
	if !ok || e.Acknowledged {
		return false
	}
	e.Acknowledged = true
	return true
}

// Get returns a copy of an entry
func (s *Store) Get(day DayKey, thread ThreadID, msg MessageID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.days[day][thread][msg]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ThreadTotal sums all entries in a thread's bucket
func (s *Store) ThreadTotal(day DayKey, thread ThreadID) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumBucket(s.days[day][thread], "")
}

// DayTotal sums every thread bucket of a day
func (s *Store) DayTotal(day DayKey) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumDay(day, "")
}

// UserTotal sums a user's entries across all threads of a day
func (s *Store) UserTotal(day DayKey, userID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumDay(day, userID)
}

// UserTotalOverRange sums a user's entries over an inclusive day range
func (s *Store) UserTotalOverRange(start, end DayKey, userID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumRange(start, end, userID)
}

// RangeTotal sums every entry over an inclusive day range
func (s *Store) RangeTotal(start, end DayKey) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumRange(start, end, "")
}

// sumRange visits only the days that hold data, so the cost does not grow
// with the width of the range. Caller holds mu.
func (s *Store) sumRange(start, end DayKey, userID string) float64 {
	total := 0.0
	for day := range s.days {
		if day.Within(start, end) {
			total += s.sumDay(day, userID)
		}
	}
	return total
}

// Threads lists the threads bucketed under a day, sorted
func (s *Store) Threads(day DayKey) []ThreadID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads := make([]ThreadID, 0, len(s.days[day]))
	for id := range s.days[day] {
		threads = append(threads, id)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i] < threads[j] })
	return threads
}

// EntryCount returns the number of live entries in a thread
func (s *Store) EntryCount(day DayKey, thread ThreadID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.days[day][thread])
}

// sumDay sums a day, restricted to userID when non-empty. Caller holds mu.
func (s *Store) sumDay(day DayKey, userID string) float64 {
	total := 0.0
	for _, b := range s.days[day] {
		total += sumBucket(b, userID)
	}
	return total
}

func sumBucket(b threadBucket, userID string) float64 {
	total := 0.0
	for _, e := range b {
		if userID != "" && e.UserID != userID {
			continue
		}
		total += e.Value
	}
	return total
}
