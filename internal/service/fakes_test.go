package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"ratekeeper/internal/domain"
)

// stubFetcher answers FetchJSON from canned bodies. A URL listed in gates
// blocks until its channel is closed. A held URL blocks only its next call,
// which answers with the body set when the call was made.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	gates  map[string]chan struct{}
	holds  map[string]chan struct{}
	calls  map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		bodies: make(map[string]string),
		errs:   make(map[string]error),
		gates:  make(map[string]chan struct{}),
		holds:  make(map[string]chan struct{}),
		calls:  make(map[string]int),
	}
}

func (f *stubFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
	delete(f.errs, url)
}

func (f *stubFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *stubFetcher) gate(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[url] = ch
	return ch
}

func (f *stubFetcher) hold(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.holds[url] = ch
	return ch
}

func (f *stubFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *stubFetcher) FetchJSON(ctx context.Context, url string, out any) error {
	f.mu.Lock()
	f.calls[url]++
	gate := f.gates[url]
	held := f.holds[url]
	delete(f.holds, url)
	heldBody, heldOK := f.bodies[url]
	heldErr := f.errs[url]
	f.mu.Unlock()

	for _, ch := range []chan struct{}{held, gate} {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	body, ok := f.bodies[url]
	err := f.errs[url]
	f.mu.Unlock()
	if held != nil {
		body, ok, err = heldBody, heldOK, heldErr
	}

	if err != nil {
		return err
	}
	if !ok {
		return domain.NewNetworkError("fetch "+url, errors.New("no route"))
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return errors.Join(domain.ErrDecode, err)
	}
	return nil
}

// inlineApplier runs mutations on the caller's goroutine, serialized.
type inlineApplier struct {
	mu  sync.Mutex
	ran int
}

func (a *inlineApplier) Submit(fn func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
	a.ran++
	return true
}

func (a *inlineApplier) applied() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ran
}

type topicRecorder struct {
	mu     sync.Mutex
	topics []domain.Topic
	ch     chan domain.Topic
}

func newTopicRecorder() *topicRecorder {
	return &topicRecorder{ch: make(chan domain.Topic, 64)}
}

func (r *topicRecorder) Notify(topic domain.Topic) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
	r.ch <- topic
}

func (r *topicRecorder) count(topic domain.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func (r *topicRecorder) await(t *testing.T, want domain.Topic) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("Timeout waiting for topic %s", want)
		}
	}
}

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) GetValue(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) SetValue(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.values[key] = value
	return nil
}

type stubNode struct {
	mu    sync.Mutex
	price *big.Int
	err   error
	calls int
}

func (n *stubNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return nil, n.err
	}
	return new(big.Int).Set(n.price), nil
}

type countingRecorder struct {
	mu    sync.Mutex
	fails map[string]int
	ok    map[string]int
	drops map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		fails: make(map[string]int),
		ok:    make(map[string]int),
		drops: make(map[string]int),
	}
}

func (r *countingRecorder) RecordFetch(feed string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.fails[feed]++
		return
	}
	r.ok[feed]++
}

func (r *countingRecorder) RecordDrop(feed string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops[feed]++
}

func (r *countingRecorder) dropCount(feed string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops[feed]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// waitIdle blocks until the guard releases or the test times out.
func waitIdle(t *testing.T, g *feedGuard) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for g.busy() {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for fetch to finish")
		}
		time.Sleep(time.Millisecond)
	}
}
