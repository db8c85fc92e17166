package descserver

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/location"
)

type fakeLookup struct {
	mu    sync.Mutex
	fetch map[string]func() ([]byte, error)
	calls map[string]int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{fetch: make(map[string]func() ([]byte, error)), calls: make(map[string]int)}
}

func (f *fakeLookup) set(name string, fn func() ([]byte, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetch[name] = fn
}

func (f *fakeLookup) FindDescriptor(name string) (location.Descriptor, bool) {
	f.mu.Lock()
	fn, ok := f.fetch[name]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	return fakeDescriptor{name: name, lookup: f, fn: fn}, true
}

type fakeDescriptor struct {
	name   string
	lookup *fakeLookup
	fn     func() ([]byte, error)
}

func (d fakeDescriptor) Name() string { return d.name }
func (d fakeDescriptor) LocationFor(location.NodeInfo, iface.Info) (string, error) {
	return "", nil
}
func (d fakeDescriptor) Content() ([]byte, error) {
	d.lookup.mu.Lock()
	d.lookup.calls[d.name]++
	d.lookup.mu.Unlock()
	return d.fn()
}

func TestCacheMissThenHit(t *testing.T) {
	lookup := newFakeLookup()
	lookup.set("a.xml", func() ([]byte, error) { return []byte("content"), nil })
	c := NewContentCache(lookup, nil)

	data, ok := c.Get("a.xml")
	require.True(t, ok)
	assert.Equal(t, []byte("content"), data)

	data, ok = c.Get("a.xml")
	require.True(t, ok)
	assert.Equal(t, []byte("content"), data)

	lookup.mu.Lock()
	assert.Equal(t, 1, lookup.calls["a.xml"], "a hit must not re-fetch")
	lookup.mu.Unlock()
}

func TestCacheNegativeResult(t *testing.T) {
	lookup := newFakeLookup()
	c := NewContentCache(lookup, nil)

	_, ok := c.Get("missing.xml")
	assert.False(t, ok)
	_, ok = c.Get("missing.xml")
	assert.False(t, ok)
}

func TestCacheResetClearsEntries(t *testing.T) {
	lookup := newFakeLookup()
	lookup.set("a.xml", func() ([]byte, error) { return []byte("v1"), nil })
	c := NewContentCache(lookup, nil)

	_, _ = c.Get("a.xml")
	c.Reset()

	lookup.set("a.xml", func() ([]byte, error) { return []byte("v2"), nil })
	data, ok := c.Get("a.xml")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), data)
}

func TestCacheSingleFlightPerKey(t *testing.T) {
	lookup := newFakeLookup()
	var inFlight int32
	release := make(chan struct{})
	lookup.set("a.xml", func() ([]byte, error) {
		atomic.AddInt32(&inFlight, 1)
		<-release
		return []byte("content"), nil
	})
	c := NewContentCache(lookup, nil)

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, ok := c.Get("a.xml")
			if ok {
				results[i] = data
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&inFlight), "concurrent requests for the same key must be serialized")
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []byte("content"), r)
	}
}

func TestCacheDifferentKeysDoNotBlockEachOther(t *testing.T) {
	lookup := newFakeLookup()
	blockA := make(chan struct{})
	lookup.set("a.xml", func() ([]byte, error) {
		<-blockA
		return []byte("a"), nil
	})
	lookup.set("b.xml", func() ([]byte, error) { return []byte("b"), nil })
	c := NewContentCache(lookup, nil)

	done := make(chan struct{})
	go func() {
		c.Get("a.xml")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	data, ok := c.Get("b.xml")
	require.True(t, ok)
	assert.Equal(t, []byte("b"), data)

	close(blockA)
	<-done
}
