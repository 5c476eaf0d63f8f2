package services

import (
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/honeypot/internal/models"
)

// StatsObserver receives aggregate change notifications. Callbacks run on the
// goroutine that produced the change, after the aggregator lock is released.
type StatsObserver interface {
	OnConnection(event models.ConnectionEvent)
	OnAttempt(event models.AttemptEvent)
}

// frequencyCount is one entry of a frequency table; order is the position at
// which the value was first observed and breaks count ties
type frequencyCount struct {
	count int64
	order int
}

type frequencyTable map[string]*frequencyCount

func (ft frequencyTable) observe(value string) {
	if fc, ok := ft[value]; ok {
		fc.count++
		return
	}
	ft[value] = &frequencyCount{count: 1, order: len(ft)}
}

func (ft frequencyTable) top(n int) []models.FrequencyEntry {
	type row struct {
		value string
		frequencyCount
	}
	rows := make([]row, 0, len(ft))
	for value, fc := range ft {
		rows = append(rows, row{value: value, frequencyCount: *fc})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].order < rows[j].order
	})

	if n < 0 {
		n = 0
	}
	if n < len(rows) {
		rows = rows[:n]
	}
	entries := make([]models.FrequencyEntry, len(rows))
	for i, r := range rows {
		entries[i] = models.FrequencyEntry{Value: r.value, Count: r.count}
	}
	return entries
}

// StatsAggregator maintains the running counters and credential frequency
// tables for the lifetime of the process
type StatsAggregator struct {
	mu                sync.RWMutex
	totalConnections  int64
	activeConnections int64
	totalAttempts     int64
	uniqueIPs         map[string]struct{}
	usernames         frequencyTable
	passwords         frequencyTable
	startedAt         time.Time
	nowFn             func() time.Time

	observerMu sync.RWMutex
	observers  map[int]StatsObserver
	nextID     int
}

// NewStatsAggregator creates a new StatsAggregator starting its uptime clock now
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{
		uniqueIPs: make(map[string]struct{}),
		usernames: make(frequencyTable),
		passwords: make(frequencyTable),
		startedAt: time.Now(),
		nowFn:     time.Now,
		observers: make(map[int]StatsObserver),
	}
}

// Subscribe registers an observer and returns a function that removes it
func (s *StatsAggregator) Subscribe(o StatsObserver) func() {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = o

	var once sync.Once
	return func() {
		once.Do(func() {
			s.observerMu.Lock()
			defer s.observerMu.Unlock()
			delete(s.observers, id)
		})
	}
}

// OnConnectionOpened counts an admitted connection from ipAddress
func (s *StatsAggregator) OnConnectionOpened(ipAddress string) {
	s.mu.Lock()
	s.totalConnections++
	s.activeConnections++
	s.uniqueIPs[ipAddress] = struct{}{}
	event := models.ConnectionEvent{IPAddress: ipAddress, Total: s.totalConnections, At: s.nowFn()}
	s.mu.Unlock()

	for _, o := range s.snapshotObservers() {
		o.OnConnection(event)
	}
}

// OnConnectionClosed decrements the active count, never below zero
func (s *StatsAggregator) OnConnectionClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeConnections > 0 {
		s.activeConnections--
	}
}

// OnAttempt counts one credential submission
func (s *StatsAggregator) OnAttempt(ipAddress, username, password string) {
	s.mu.Lock()
	s.totalAttempts++
	s.usernames.observe(username)
	s.passwords.observe(password)
	event := models.AttemptEvent{
		IPAddress: ipAddress,
		Username:  username,
		Password:  password,
		Total:     s.totalAttempts,
		At:        s.nowFn(),
	}
	s.mu.Unlock()

	for _, o := range s.snapshotObservers() {
		o.OnAttempt(event)
	}
}

// Snapshot returns a consistent copy of every counter with the topN most
// frequent usernames and passwords
func (s *StatsAggregator) Snapshot(topN int) models.StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := s.nowFn().Sub(s.startedAt)
	return models.StatsSnapshot{
		TotalConnections:  s.totalConnections,
		ActiveConnections: s.activeConnections,
		TotalAttempts:     s.totalAttempts,
		UniqueIPs:         len(s.uniqueIPs),
		TopUsernames:      s.usernames.top(topN),
		TopPasswords:      s.passwords.top(topN),
		StartedAt:         s.startedAt,
		Uptime:            uptime,
		UptimeSeconds:     int64(uptime / time.Second),
	}
}

func (s *StatsAggregator) snapshotObservers() []StatsObserver {
	s.observerMu.RLock()
	defer s.observerMu.RUnlock()

	if len(s.observers) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]StatsObserver, len(ids))
	for i, id := range ids {
		out[i] = s.observers[id]
	}
	return out
}
