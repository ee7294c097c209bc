package geoinfo

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLookuper struct {
	info Info
	err  error
}

func (f *fakeLookuper) Lookup(ip net.IP) (Info, error) {
	return f.info, f.err
}

func TestHTTPLookuper_RefusesPrivateAddresses(t *testing.T) {
	l := NewHTTPLookuper()
	_, err := l.Lookup(net.ParseIP("10.0.0.2"))
	assert.Error(t, err)

	_, err = l.Lookup(net.ParseIP("127.0.0.1"))
	assert.Error(t, err)
}

func TestEnrichAsync_CallsBackOnSuccess(t *testing.T) {
	l := &fakeLookuper{info: Info{Country: "Narnia", City: "Cair Paravel"}}

	var mu sync.Mutex
	var got Info
	done := make(chan struct{})

	EnrichAsync(l, net.ParseIP("8.8.8.8"), func(info Info) {
		mu.Lock()
		got = info
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EnrichAsync callback")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Narnia", got.Country)
}

func TestEnrichAsync_SilentOnError(t *testing.T) {
	l := &fakeLookuper{err: assertErr{}}
	called := false
	done := make(chan struct{})

	go func() {
		EnrichAsync(l, net.ParseIP("8.8.8.8"), func(Info) { called = true })
		close(done)
	}()

	<-done
	time.Sleep(50 * time.Millisecond)
	assert.False(t, called)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
