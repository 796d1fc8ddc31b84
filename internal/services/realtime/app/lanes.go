package server

import "sync"

// lanes runs submitted tasks in FIFO order per key. Each key gets a drain
// goroutine that lives only while its queue is non-empty, so different keys
// proceed concurrently and idle keys cost nothing.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

// submit queues task behind every earlier task for key.
func (l *lanes) submit(key string, task func()) {
	l.mu.Lock()
	queue, draining := l.queues[key]
	l.queues[key] = append(queue, task)
	if !draining {
		l.wg.Add(1)
		go l.drain(key)
	}
	l.mu.Unlock()
}

// run queues task for key and blocks until it has executed.
func (l *lanes) run(key string, task func()) {
	done := make(chan struct{})
	l.submit(key, func() {
		defer close(done)
		task()
	})
	<-done
}

func (l *lanes) drain(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		queue := l.queues[key]
		if len(queue) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		task := queue[0]
		queue[0] = nil
		l.queues[key] = queue[1:]
		l.mu.Unlock()

		task()
	}
}

// wait blocks until every submitted task has run.
func (l *lanes) wait() {
	l.wg.Wait()
}

// active reports how many keys currently have a drain goroutine.
func (l *lanes) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
