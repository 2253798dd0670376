package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPolicy(penalty time.Duration) Policy {
	return Policy{
		Name:        "test",
		MaxRequests: 5,
		Window:      60 * time.Second,
		Penalty:     penalty,
	}
}

func TestAdmit_WindowFillsAndDrains(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)
	p := testPolicy(0)

	for i := 0; i < 5; i++ {
		if res := l.Admit("u1", p); !res.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
	}

	res := l.Admit("u1", p)
	if res.Allowed {
		t.Fatal("6th call in window: expected denied")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > p.Window {
		t.Fatalf("unexpected retry-after %s", res.RetryAfter)
	}

	// Past the window, admission resumes.
	clock.Advance(61 * time.Second)
	if res := l.Admit("u1", p); !res.Allowed {
		t.Fatal("expected allowed after window elapsed")
	}
}

func TestAdmit_PenaltyBlocksEvenWithRoom(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)
	p := testPolicy(30 * time.Second)

	for i := 0; i < 5; i++ {
		l.Admit("u1", p)
	}
	res := l.Admit("u1", p)
	if res.Allowed {
		t.Fatal("expected denial triggering penalty")
	}
	if res.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry-after 30s, got %s", res.RetryAfter)
	}

	// The window would have room after eviction, but the penalty wins.
	clock.Advance(29 * time.Second)
	if res := l.Admit("u1", p); res.Allowed {
		t.Fatal("expected denial while under penalty")
	}

	clock.Advance(2 * time.Second)
	// Penalty elapsed; the original 5 timestamps are still inside the 60s
	// window, so the subject must wait for them to age out.
	if res := l.Admit("u1", p); res.Allowed {
		t.Fatal("expected denial, window still full")
	}
	clock.Advance(60 * time.Second)
	if res := l.Admit("u1", p); res.Allowed {
		// The second denial re-armed the penalty at t=31s; it expired at
		// t=61s, and the window is empty by t=91s.
		return
	}
	t.Fatal("expected allowed after penalty and window both elapsed")
}

func TestAdmit_SubjectsAndPoliciesAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)
	strict := Policy{Name: "strict", MaxRequests: 1, Window: time.Minute}
	loose := Policy{Name: "loose", MaxRequests: 100, Window: time.Minute}

	if !l.Admit("u1", strict).Allowed {
		t.Fatal("first strict call should pass")
	}
	if l.Admit("u1", strict).Allowed {
		t.Fatal("second strict call should be denied")
	}
	// Same subject under a different policy is unaffected.
	if !l.Admit("u1", loose).Allowed {
		t.Fatal("loose policy should still admit u1")
	}
	// Different subject under the strict policy is unaffected.
	if !l.Admit("u2", strict).Allowed {
		t.Fatal("strict policy should admit a fresh subject")
	}
}

func TestAdmit_ViolationsCounted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)
	p := Policy{Name: "v", MaxRequests: 1, Window: time.Minute}

	l.Admit("u1", p)
	l.Admit("u1", p)
	l.Admit("u1", p)

	if got := l.Violations("u1", p); got != 2 {
		t.Fatalf("expected 2 violations, got %d", got)
	}
}

func TestAdmit_PenaltyRejectionsCountAsViolations(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)
	p := Policy{Name: "v", MaxRequests: 1, Window: time.Minute, Penalty: 30 * time.Second}

	l.Admit("u1", p)
	l.Admit("u1", p) // denied, arms the penalty

	// Taps during the penalty are denials too.
	clock.Advance(10 * time.Second)
	l.Admit("u1", p)
	clock.Advance(10 * time.Second)
	l.Admit("u1", p)

	if got := l.Violations("u1", p); got != 3 {
		t.Fatalf("expected 3 violations, got %d", got)
	}
}

func TestCleanup_DropsIdleEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewWithClock(clock.Now)
	p := testPolicy(0)

	l.Admit("idle", p)
	clock.Advance(2 * time.Hour)
	l.Admit("active", p)

	if removed := l.Cleanup(time.Hour); removed != 1 {
		t.Fatalf("expected 1 entry removed, got %d", removed)
	}
	// The active entry must survive.
	if !l.Admit("active", p).Allowed {
		t.Fatal("active entry should still admit")
	}
}

func TestAdmit_ConcurrentCallsStayBounded(t *testing.T) {
	l := New()
	p := Policy{Name: "c", MaxRequests: 10, Window: time.Minute}

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("u1", p).Allowed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	n := 0
	for range allowed {
		n++
	}
	if n != 10 {
		t.Fatalf("expected exactly 10 admissions, got %d", n)
	}
}

func TestPolicy_Validate(t *testing.T) {
	cases := []struct {
		p       Policy
		wantErr bool
	}{
		{Policy{Name: "ok", MaxRequests: 1, Window: time.Second}, false},
		{Policy{MaxRequests: 1, Window: time.Second}, true},
		{Policy{Name: "x", MaxRequests: 0, Window: time.Second}, true},
		{Policy{Name: "x", MaxRequests: 1, Window: 0}, true},
		{Policy{Name: "x", MaxRequests: 1, Window: time.Second, Penalty: -time.Second}, true},
	}
	for i, tc := range cases {
		err := tc.p.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("case %d (%s): got err=%v, wantErr=%v", i, fmt.Sprintf("%+v", tc.p), err, tc.wantErr)
		}
	}
}
