package safechat

import (
	"container/list"
	"sync"
	"time"
)

// Session scorer parameters. A session is one (sender, job) pair.
const (
	scorerWindow     = 3600 * time.Second
	scorerMaxEntries = 10
	scorerSumLimit   = 2.0
	scorerFlagScore  = 0.3
	scorerFlagCount  = 3
	scorerMaxSessions = 10000
)

type scoreEntry struct {
	score float64
	at    time.Time
}

type session struct {
	key     string
	entries []scoreEntry
}

// SessionScorer accumulates per-session scan scores to catch crescendo
// attacks: many messages that each pass the single-message thresholds
// but together show sustained probing. LRU-bounded process-wide state;
// it does not survive restart and does not need to.
type SessionScorer struct {
	mu       sync.Mutex
	sessions map[string]*list.Element
	order    *list.List // front = most recently touched
	now      func() time.Time
}

// NewSessionScorer builds an empty scorer.
func NewSessionScorer() *SessionScorer {
	return &SessionScorer{
		sessions: make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Record appends a score to the session and reports whether the
// session has escalated. Escalation requires both a rolling sum at or
// above 2.0 and at least 3 entries individually above 0.3, so a single
// hot message or a long run of near-zero scores does not trip it.
func (s *SessionScorer) Record(sender, jobID string, score float64) bool {
	key := sender + "|" + jobID
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var sess *session
	if el, ok := s.sessions[key]; ok {
		s.order.MoveToFront(el)
		sess = el.Value.(*session)
	} else {
		sess = &session{key: key}
		s.sessions[key] = s.order.PushFront(sess)
		if s.order.Len() > scorerMaxSessions {
			oldest := s.order.Back()
			s.order.Remove(oldest)
			delete(s.sessions, oldest.Value.(*session).key)
		}
	}

	sess.entries = append(sess.entries, scoreEntry{score: score, at: now})

	// Trim to the window, then to the entry cap, keeping newest.
	cutoff := now.Add(-scorerWindow)
	kept := sess.entries[:0]
	for _, e := range sess.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) > scorerMaxEntries {
		kept = kept[len(kept)-scorerMaxEntries:]
	}
	sess.entries = append([]scoreEntry(nil), kept...)

	sum := 0.0
	flagged := 0
	for _, e := range sess.entries {
		sum += e.score
		if e.score > scorerFlagScore {
			flagged++
		}
	}
	return sum >= scorerSumLimit && flagged >= scorerFlagCount
}

// Reset drops a session, used when a job closes.
func (s *SessionScorer) Reset(sender, jobID string) {
	key := sender + "|" + jobID
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.sessions[key]; ok {
		s.order.Remove(el)
		delete(s.sessions, key)
	}
}

// Len reports the number of tracked sessions.
func (s *SessionScorer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
