package facts

import (
	"errors"
	"testing"
)

func TestGetMemoizesAcrossCalls(t *testing.T) {
	calls := 0
	alm := New()
	alm.AddFact("count", 1, nil, func(_ map[string]any, _ *Almanac) (any, error) {
		calls++
		return calls, nil
	})

	first, found, err := alm.Get("count")
	if err != nil || !found {
		t.Fatalf("unexpected: %v %v %v", first, found, err)
	}
	second, _, _ := alm.Get("count")
	if first != second {
		t.Fatalf("expected memoized value, got %v then %v", first, second)
	}
	if calls != 1 {
		t.Fatalf("expected producer invoked once, got %d", calls)
	}
}

func TestGetUndefinedFactReturnsFalseNotError(t *testing.T) {
	alm := New()
	v, found, err := alm.Get("nonexistent")
	if err != nil {
		t.Fatalf("expected no error for undefined fact, got %v", err)
	}
	if found {
		t.Fatalf("expected found=false for unregistered fact, got %v", v)
	}
}

func TestHigherPriorityFactWinsRegistration(t *testing.T) {
	alm := New()
	alm.AddFact("x", 1, nil, func(_ map[string]any, _ *Almanac) (any, error) { return "low", nil })
	alm.AddFact("x", 5, nil, func(_ map[string]any, _ *Almanac) (any, error) { return "high", nil })

	v, _, _ := alm.Get("x")
	if v != "high" {
		t.Fatalf("expected higher priority registration to win, got %v", v)
	}
}

func TestFactCanReadOtherFacts(t *testing.T) {
	alm := New()
	alm.AddFact("base", 1, nil, func(_ map[string]any, _ *Almanac) (any, error) { return 2, nil })
	alm.AddFact("doubled", 1, nil, func(_ map[string]any, a *Almanac) (any, error) {
		base, _, err := a.Get("base")
		if err != nil {
			return nil, err
		}
		return base.(int) * 2, nil
	})

	v, _, err := alm.Get("doubled")
	if err != nil || v != 4 {
		t.Fatalf("expected lazy fact graph to resolve to 4, got %v err=%v", v, err)
	}
}

func TestGetPropagatesProducerError(t *testing.T) {
	alm := New()
	boom := errors.New("boom")
	alm.AddFact("broken", 1, nil, func(_ map[string]any, _ *Almanac) (any, error) { return nil, boom })

	_, found, err := alm.Get("broken")
	if !found || err == nil {
		t.Fatalf("expected found=true with error, got found=%v err=%v", found, err)
	}
}
