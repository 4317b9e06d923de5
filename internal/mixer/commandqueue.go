package mixer

import "sync"

// Command is a deferred callback accumulated while the audio thread holds
// the Audio Mutex and run only after it has been released (spec.md §5:
// "commands enqueued during mixing observe FIFO order when drained, and
// are drained after the Audio Mutex is released, so command handlers may
// freely call back into the engine").
type Command func()

// CommandQueue is the FIFO described in spec.md §3 ("Command Queue").
// Enqueue is safe to call from the audio thread while holding the Audio
// Mutex; Drain must be called from the game thread after the mutex has
// been released, never from inside a Mix call.
type CommandQueue struct {
	mu       sync.Mutex
	commands []Command
}

// Enqueue appends a command to the queue, preserving FIFO order.
func (q *CommandQueue) Enqueue(c Command) {
	q.mu.Lock()
	q.commands = append(q.commands, c)
	q.mu.Unlock()
}

// Drain runs and clears every pending command, in the order enqueued.
func (q *CommandQueue) Drain() {
	q.mu.Lock()
	pending := q.commands
	q.commands = nil
	q.mu.Unlock()

	for _, c := range pending {
		c()
	}
}

// Len reports the number of pending commands, mostly useful for tests.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}
