package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort replays canned firmware replies and records what was written
type fakePort struct {
	replies *strings.Reader
	written bytes.Buffer
	closed  bool
}

func newFakePort(replies string) *fakePort {
	return &fakePort{replies: strings.NewReader(replies)}
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.replies.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

// echoPort answers every encoder request with a fixed position
type echoPort struct {
	mu      sync.Mutex
	reply   string
	pending bytes.Buffer
}

func (p *echoPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Read(b)
}

func (p *echoPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if string(b) == "E\n" {
		p.pending.WriteString(p.reply)
	}
	return len(b), nil
}

func (p *echoPort) Close() error { return nil }

func TestSerialMotor_ConcurrentCallersKeepRepliesPaired(t *testing.T) {
	m := newSerialMotor(&echoPort{reply: "51\n"})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for n := 0; n < 4; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for k := 0; k < 25; k++ {
				pos, err := m.Position(ctx)
				if err == nil && pos != 51 {
					err = assert.AnError
				}
				if err != nil {
					errs <- err
				}
			}
		}()
		go func() {
			defer wg.Done()
			for k := 0; k < 25; k++ {
				if err := m.SetPower(ctx, 0); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestSerialMotor_Protocol(t *testing.T) {
	port := newFakePort("51\r\n-3\n")
	m := newSerialMotor(port)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx))

	pos, err := m.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, 51.0, pos)

	pos, err = m.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, -3.0, pos)

	require.NoError(t, m.SetPower(ctx, 0.25))
	require.NoError(t, m.SetPower(ctx, -2))

	assert.Equal(t, "B\nE\nE\nP0.250\nP-1.000\n", port.written.String())

	require.NoError(t, m.Close())
	assert.True(t, port.closed)
}

func TestSerialMotor_BadReply(t *testing.T) {
	m := newSerialMotor(newFakePort("ERR\n"))

	_, err := m.Position(context.Background())
	assert.ErrorContains(t, err, "parse encoder reply")
}

func TestSerialMotor_NoReply(t *testing.T) {
	m := newSerialMotor(newFakePort(""))

	_, err := m.Position(context.Background())
	assert.Error(t, err)
}

func TestSerialMotor_CancelledContextWritesNothing(t *testing.T) {
	port := newFakePort("")
	m := newSerialMotor(port)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, m.SetPower(ctx, 0.5))
	assert.Empty(t, port.written.String())
}
