package session

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/guestbridge/internal/sandbox"
	"github.com/GriffinCanCode/guestbridge/internal/shared/id"
)

// Session is one guest runtime plus its outbound subscribers
type Session struct {
	id        id.SessionID
	name      string
	createdAt time.Time
	runtime   *sandbox.Runtime
	recorder  *monitoring.SessionRecorder
	logger    *zap.Logger
	buffer    int

	in, out, dropped atomic.Int64

	mu          sync.RWMutex
	injected    bool                   // Protected by mu
	closed      bool                   // Protected by mu
	injectTimer *time.Timer            // Protected by mu
	subscribers map[uint64]chan string // Protected by mu
	nextSub     uint64                 // Protected by mu
}

// ID returns the session id
func (s *Session) ID() id.SessionID {
	return s.id
}

// Runtime returns the guest runtime
func (s *Session) Runtime() *sandbox.Runtime {
	return s.runtime
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.RLock()
	injected := s.injected
	subs := len(s.subscribers)
	s.mu.RUnlock()

	b := s.runtime.Bridge()
	info := Info{
		ID:              s.id.String(),
		Name:            s.name,
		CreatedAt:       s.createdAt,
		Injected:        injected,
		Binding:         BindingPending,
		InstallAttempts: b.Attempts(),
		Pending:         b.Table().Pending(),
		EnvelopesIn:     s.in.Load(),
		EnvelopesOut:    s.out.Load(),
		Dropped:         s.dropped.Load(),
		Subscribers:     subs,
	}

	if _, err, settled := b.Ready().Result(); settled {
		if err != nil {
			info.Binding = BindingFailed
			info.BindingError = err.Error()
		} else {
			info.Binding = BindingAttached
		}
	}
	return info
}

// publish fans an outbound payload out to subscribers. It runs on the
// guest loop, so full subscribers lose the payload instead of blocking.
func (s *Session) publish(payload string) {
	s.out.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	for _, ch := range s.subscribers {
		select {
		case ch <- payload:
		default:
			s.dropped.Add(1)
			if s.recorder != nil {
				s.recorder.RecordDropped()
			}
		}
	}
}

// inject defines the host primitive in the guest
func (s *Session) inject() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.injected {
		s.mu.Unlock()
		return ErrAlreadyInjected
	}
	s.injected = true
	if s.injectTimer != nil {
		s.injectTimer.Stop()
		s.injectTimer = nil
	}
	s.mu.Unlock()

	name := s.runtime.Bridge().Config().Name
	if err := s.runtime.Inject(name, s.publish); err != nil {
		s.mu.Lock()
		s.injected = false
		s.mu.Unlock()
		return err
	}

	s.logger.Debug("host primitive injected", zap.String("name", name))
	return nil
}

// subscribe registers an outbound channel
func (s *Session) subscribe() (<-chan string, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}

	key := s.nextSub
	s.nextSub++
	ch := make(chan string, s.buffer)
	s.subscribers[key] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subscribers[key]; ok {
				delete(s.subscribers, key)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// close stops the guest and ends every subscription. The runtime is
// stopped outside the lock because publish may be waiting on it.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.injectTimer != nil {
		s.injectTimer.Stop()
		s.injectTimer = nil
	}
	s.mu.Unlock()

	_ = s.runtime.Close()

	s.mu.Lock()
	for key, ch := range s.subscribers {
		delete(s.subscribers, key)
		close(ch)
	}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.Forget()
	}
}
