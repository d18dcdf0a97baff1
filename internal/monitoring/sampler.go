package monitoring

import "sync"

// Sampler forwards every Nth call to Logf. It is used on hot paths such as the
// per-cycle status line where logging every iteration would flood the output.
type Sampler struct {
	mu    sync.Mutex
	every int
	n     int
}

// NewSampler returns a Sampler that logs on the first call and then every
// "every" calls. Values below 1 log every call.
func NewSampler(every int) *Sampler {
	if every < 1 {
		every = 1
	}
	return &Sampler{every: every}
}

// Logf logs when the call falls on the sampling boundary and reports whether
// it did.
func (s *Sampler) Logf(format string, v ...interface{}) bool {
	emit := s.Allow()
	if emit {
		Logf(format, v...)
	}
	return emit
}

// Allow counts one call and reports whether it falls on the sampling
// boundary. Callers that pick the message later use it instead of Logf.
func (s *Sampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	emit := s.n%s.every == 0
	s.n++
	return emit
}

// Reset restarts the count so the next call logs.
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.n = 0
	s.mu.Unlock()
}
