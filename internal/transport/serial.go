package transport

import "sync"

// serial выполняет задачи по одной, по порядку, в одной горутине.
// Очередь неограниченная: post не блокируется, даже изнутри задачи.
type serial struct {
	mu      sync.Mutex
	jobs    []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newSerial() *serial {
	s := &serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// post ставит fn в очередь. После stop возвращает false.
func (s *serial) post(fn func()) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.jobs = append(s.jobs, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// stop запрещает новые post; уже поставленные задачи выполнятся.
func (s *serial) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *serial) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		jobs := s.jobs
		s.jobs = nil
		stopped := s.stopped
		s.mu.Unlock()

		for _, fn := range jobs {
			fn()
		}
		if len(jobs) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-s.wake
	}
}
