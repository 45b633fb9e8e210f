package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type fakeClient struct {
	id   string
	fail error

	mu      sync.Mutex
	notices []domain.Notice
	closed  bool
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) SendNotice(n domain.Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.notices = append(c.notices, n)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notices)
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestNoticeFanOut(t *testing.T) {
	s := NewNoticeService()
	go s.Run()

	a := &fakeClient{id: "a"}
	b := &fakeClient{id: "b"}
	broken := &fakeClient{id: "broken", fail: errors.New("write: broken pipe")}
	s.Join(a)
	s.Join(b)
	s.Join(broken)

	s.Publish(domain.Notice{Type: domain.NoticeState, CallID: "c1"})
	eventually(t, "fan out", func() bool { return a.received() == 1 && b.received() == 1 })
	eventually(t, "broken client dropped", broken.isClosed)

	s.Leave(b)
	s.Publish(domain.Notice{Type: domain.NoticeError, CallID: "c1"})
	eventually(t, "second notice", func() bool { return a.received() == 2 })
	if b.received() != 1 {
		t.Errorf("client that left received %d notices", b.received())
	}

	s.Stop()
	eventually(t, "clients closed on stop", a.isClosed)
	if b.isClosed() {
		t.Error("client that left was closed on stop")
	}
}

func TestNoticePublishNeverBlocks(t *testing.T) {
	s := NewNoticeService()
	for i := 0; i < noticeBuffer*2; i++ {
		s.Publish(domain.Notice{Type: domain.NoticeState})
	}
	if n := len(s.broadcast); n != noticeBuffer {
		t.Errorf("buffered notices = %d, want %d", n, noticeBuffer)
	}
	s.Stop()
	// Join after stop returns instead of blocking.
	s.Join(&fakeClient{id: "late"})
}
