package dispatch

import "testing"

func TestOptimalWorkersByCategory(t *testing.T) {
	p := NewPolicy(Host{Physical: 4, Logical: 8})
	cases := []struct {
		cat  Category
		want int
	}{
		{IOBound, 8},
		{CPUBound, 4},
		{Mixed, 6},
		{Category("other"), 8},
	}
	for _, tc := range cases {
		if got := p.OptimalWorkers(tc.cat); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.cat, got, tc.want)
		}
	}
}

func TestOptimalWorkersIOCappedByLogical(t *testing.T) {
	p := NewPolicy(Host{Physical: 4, Logical: 6})
	if got := p.OptimalWorkers(IOBound); got != 6 {
		t.Fatalf("expected io workers capped at logical=6, got %d", got)
	}
}

func TestOptimalWorkersMixedRounds(t *testing.T) {
	p := NewPolicy(Host{Physical: 3, Logical: 3})
	// 1.5 * 3 = 4.5 rounds half away from zero.
	if got := p.OptimalWorkers(Mixed); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	single := NewPolicy(Host{Physical: 1, Logical: 1})
	if got := single.OptimalWorkers(Mixed); got != 2 {
		t.Fatalf("expected round(1.5)=2, got %d", got)
	}
}

func TestOptimalWorkersConstrained(t *testing.T) {
	p := NewPolicy(Host{Physical: 16, Logical: 32, Constrained: true})
	for _, cat := range []Category{IOBound, CPUBound, Mixed, "x"} {
		if got := p.OptimalWorkers(cat); got != constrainedWorkers {
			t.Fatalf("%s: expected %d on constrained host, got %d", cat, constrainedWorkers, got)
		}
	}
}

func TestOptimalWorkersFloor(t *testing.T) {
	p := NewPolicy(Host{})
	if got := p.OptimalWorkers(CPUBound); got != 1 {
		t.Fatalf("expected floor of 1, got %d", got)
	}
}

func TestOptimalBatchSize(t *testing.T) {
	cases := []struct {
		name                   string
		total, workers, lo, hi int
		want                   int
	}{
		{"below min", 50, 4, 100, 10000, 50},
		{"clamped to min", 500, 4, 100, 10000, 100},
		{"three per worker", 120000, 4, 100, 100000, 10000},
		{"clamped to max", 1000000, 2, 100, 10000, 10000},
		{"zero workers", 3000, 0, 100, 10000, 1000},
	}
	for _, tc := range cases {
		if got := OptimalBatchSize(tc.total, tc.workers, tc.lo, tc.hi); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestShouldParallelize(t *testing.T) {
	p := NewPolicy(Host{Physical: 2, Logical: 4})
	if !p.ShouldParallelize(100, 100) {
		t.Fatalf("expected parallel at threshold")
	}
	if p.ShouldParallelize(99, 100) {
		t.Fatalf("expected sequential below threshold")
	}
	c := NewPolicy(Host{Physical: 2, Logical: 4, Constrained: true})
	if c.ShouldParallelize(499, 100) {
		t.Fatalf("constrained host must raise threshold to 500")
	}
	if !c.ShouldParallelize(500, 100) {
		t.Fatalf("expected parallel at raised threshold")
	}
	if !c.ShouldParallelize(800, 800) || c.ShouldParallelize(799, 800) {
		t.Fatalf("higher thresholds are kept as-is")
	}
}

func TestConstrainedEnv(t *testing.T) {
	env := map[string]string{"GITHUB_ACTIONS": "true"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	if !constrainedEnv(lookup) {
		t.Fatalf("expected GITHUB_ACTIONS to mark constrained")
	}
	env = map[string]string{"CI": "false"}
	if constrainedEnv(lookup) {
		t.Fatalf("CI=false should not mark constrained")
	}
	env = map[string]string{}
	if constrainedEnv(lookup) {
		t.Fatalf("empty environment should not be constrained")
	}
}

func TestDetectIsSane(t *testing.T) {
	h := Detect()
	if h.Logical < 1 || h.Physical < 1 || h.Physical > h.Logical {
		t.Fatalf("unexpected host view %+v", h)
	}
}

func TestDescribe(t *testing.T) {
	info := NewPolicy(Host{Physical: 2, Logical: 4}).Describe()
	if !info.Hyperthreading {
		t.Fatalf("expected hyperthreading for 2/4")
	}
	if info.Workers[CPUBound] != 2 || info.Workers[IOBound] != 4 || info.Workers[Mixed] != 3 {
		t.Fatalf("unexpected workers %+v", info.Workers)
	}
}

func TestParseCategory(t *testing.T) {
	if ParseCategory("IO-bound") != IOBound || ParseCategory("cpu") != CPUBound || ParseCategory(" Mixed ") != Mixed {
		t.Fatalf("category parsing mismatch")
	}
}
