package transmit

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the state of one response transmission. Status and headers
// can be changed until the head is committed, which happens right before
// the first chunk is written (or on completion of an empty body).
type Session struct {
	id      string
	started time.Time

	mu        sync.Mutex
	status    int
	header    http.Header
	committed bool
	bytes     int64
	writes    int
	state     State
}

func newSession(id string, status int, header http.Header) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if status == 0 {
		status = http.StatusOK
	}
	if header == nil {
		header = make(http.Header)
	}
	return &Session{
		id:      id,
		started: time.Now(),
		status:  status,
		header:  header,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Started returns the creation time.
func (s *Session) Started() time.Time { return s.started }

// Status returns the response status code.
func (s *Session) Status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus changes the status code.
func (s *Session) SetStatus(code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return ErrHeadersCommitted
	}
	s.status = code
	return nil
}

// Header returns a copy of the response headers.
func (s *Session) Header() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.Clone()
}

// SetHeader replaces the values of a header.
func (s *Session) SetHeader(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return ErrHeadersCommitted
	}
	s.header.Set(key, value)
	return nil
}

// AddHeader appends a header value.
func (s *Session) AddHeader(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return ErrHeadersCommitted
	}
	s.header.Add(key, value)
	return nil
}

// Committed reports whether the head has been handed to the channel.
func (s *Session) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// BytesWritten returns the number of body bytes the channel confirmed.
func (s *Session) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Writes returns the number of confirmed chunk writes.
func (s *Session) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// State returns the transmitter state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// commit freezes the head and returns it, or reports false if it was
// already committed.
func (s *Session) commit() (int, http.Header, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return 0, nil, false
	}
	s.committed = true
	return s.status, s.header.Clone(), true
}

func (s *Session) recordWrite(n int) {
	s.mu.Lock()
	s.bytes += int64(n)
	s.writes++
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
