package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock only fires timers when advanced
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) activeTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakePeer records every frame written to it
type fakePeer struct {
	id      string
	sent    chan []byte
	open    atomic.Bool
	sendErr error
	closes  atomic.Int32
}

func newFakePeer(id string) *fakePeer {
	p := &fakePeer{id: id, sent: make(chan []byte, 64)}
	p.open.Store(true)
	return p
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(data []byte) error {
	if !p.open.Load() {
		return errors.New("connection closed")
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent <- data
	return nil
}

func (p *fakePeer) IsOpen() bool { return p.open.Load() }

func (p *fakePeer) Close() error {
	p.closes.Add(1)
	p.open.Store(false)
	return nil
}

// fakeListener lets tests inject transport events
type fakeListener struct {
	mu        sync.Mutex
	events    chan Event
	listenErr error
	addr      string
	closed    bool
	gate      chan struct{} // Listen blocks until closed
}

func newFakeListener() *fakeListener {
	return &fakeListener{addr: "127.0.0.1:9001"}
}

func (l *fakeListener) Listen(ctx context.Context, addr string) (<-chan Event, error) {
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listenErr != nil {
		return nil, l.listenErr
	}
	l.events = make(chan Event, 64)
	l.closed = false
	return l.events, nil
}

func (l *fakeListener) Addr() string { return l.addr }

func (l *fakeListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.events == nil {
		return nil
	}
	l.closed = true
	close(l.events)
	return nil
}

func (l *fakeListener) emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.events <- ev
}

func (l *fakeListener) connect(p Peer) {
	l.emit(Event{Kind: EventConnected, Peer: p})
}

func (l *fakeListener) disconnect(p Peer) {
	l.emit(Event{Kind: EventDisconnected, Peer: p})
}

func (l *fakeListener) frame(p Peer, data string) {
	l.emit(Event{Kind: EventFrame, Peer: p, Data: []byte(data)})
}

// recordingObserver captures observer callbacks
type recordingObserver struct {
	mu      sync.Mutex
	sent    []string
	settled []string
	dropped []string
}

func (o *recordingObserver) CommandSent(commandType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, commandType)
}

func (o *recordingObserver) CommandSettled(commandType, outcome string, latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled = append(o.settled, fmt.Sprintf("%s:%s", commandType, outcome))
}

func (o *recordingObserver) FrameDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, reason)
}

func (o *recordingObserver) droppedReasons() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.dropped...)
}

func (o *recordingObserver) settledOutcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.settled...)
}

// recordingConnListener captures attach and detach notifications
type recordingConnListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingConnListener) OnPeerAttached(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "attached:"+peerID)
}

func (l *recordingConnListener) OnPeerDetached(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "detached:"+peerID)
}

func (l *recordingConnListener) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}
