package server

import (
	"sync"

	"github.com/zot/snippets/internal/storage"
)

// ChanSvc is a serialized executor: functions sent on it run one at a time,
// in order, on a single goroutine. The server runs every store operation
// through one ChanSvc so user actions never overlap.
type ChanSvc struct {
	cmds chan func()
	done chan struct{}
	once sync.Once
}

// NewChanSvc creates an executor. Start it with RunSvc.
func NewChanSvc() *ChanSvc {
	return &ChanSvc{
		cmds: make(chan func()),
		done: make(chan struct{}),
	}
}

// Close stops the executor. Later submissions fail with storage.ErrClosed.
func (s *ChanSvc) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *ChanSvc) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// SvcSync runs code on s and waits for its result.
func SvcSync[T any](s *ChanSvc, code func() (T, error)) (T, error) {
	result := make(chan bool)
	var value T
	var err error
	cmd := func() {
		defer func() { result <- true }()
		value, err = code()
	}
	var zero T
	if s.closed() {
		return zero, storage.ErrClosed
	}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return zero, storage.ErrClosed
	}
	<-result
	return value, err
}

// Svc queues code on s without waiting. It is dropped if s is closed.
func Svc(s *ChanSvc, code func()) {
	if s.closed() {
		return
	}
	go func() { // using a goroutine so the caller won't block
		select {
		case s.cmds <- code:
		case <-s.done:
		}
	}()
}

// RunSvc runs a service until it is closed.
func RunSvc(s *ChanSvc) {
	go func() {
		for {
			select {
			case cmd := <-s.cmds:
				cmd()
			case <-s.done:
				return
			}
		}
	}()
}
