package vm

import (
	"fmt"
	"time"
)

// RecvPlaceholder is the value RECV_CHANNEL pushes for every channel.
const RecvPlaceholder = "recv_channel_value"

// sendChannel pops a channel name and a value and reports them. Nothing is
// delivered anywhere.
func (m *Machine) sendChannel() error {
	ch, err := m.pop()
	if err != nil {
		return err
	}
	val, err := m.pop()
	if err != nil {
		return err
	}
	m.write(m.opts.diagnostics, fmt.Sprintf("SEND (ch=%s, val=%s)\n", ch, val))
	return nil
}

// recvChannel pops a channel name and pushes RecvPlaceholder, regardless of
// the channel or of earlier sends.
func (m *Machine) recvChannel() error {
	ch, err := m.pop()
	if err != nil {
		return err
	}
	m.write(m.opts.diagnostics, fmt.Sprintf("RECV (ch=%s)\n", ch))
	m.push(Text(RecvPlaceholder))
	return nil
}

// spawn pops two task ids, reports them, and starts the two fixed counting
// loops. The loops ignore the popped ids and are never joined.
func (m *Machine) spawn() error {
	func1, err := m.pop()
	if err != nil {
		return err
	}
	func2, err := m.pop()
	if err != nil {
		return err
	}
	m.write(m.opts.diagnostics, fmt.Sprintf("SPAWN (func1=%s, func2=%s)\n", func1, func2))

	for _, name := range []string{"func1", "func2"} {
		m.opts.launch(name, m.countingLoop(name))
	}
	return nil
}

func (m *Machine) countingLoop(name string) func() {
	iterations := m.opts.spawnIterations
	delay := m.opts.spawnDelay
	w := m.opts.diagnostics
	mu := m.mu

	return func() {
		emit := func(s string) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(w, s)
		}
		for i := 1; i <= iterations; i++ {
			emit(fmt.Sprintf("spawned %s i=%d", name, i))
			time.Sleep(delay)
		}
		emit(fmt.Sprintf("spawned %s end", name))
	}
}
