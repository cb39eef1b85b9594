package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubProbe(name string, fields []string, run func(ctx context.Context, ec ExecContext, target Target, record *ProbeRecord)) Probe {
	return &stubProbe{
		meta: ProbeMetadata{Name: name, Fields: fields},
		run:  run,
	}
}

func fixedClassifier(states map[string]Reachability) func(context.Context, Target) Reachability {
	return func(_ context.Context, t Target) Reachability {
		if s, ok := states[t.Host]; ok {
			return s
		}
		return ReachOnline
	}
}

func TestPipeline_UnreachableShortCircuits(t *testing.T) {
	diag := &countingDiag{}
	battery := []Probe{
		newStubProbe("fills-a", []string{"a"}, func(ctx context.Context, ec ExecContext, target Target, record *ProbeRecord) {
			// A real probe issues remote calls through Diag; the counting
			// backend proves none happen for short-circuited targets.
			state, _ := ec.Diag.ServiceStatus(ctx, target.Host, "NTDS")
			record.Set("a", OKResult(string(state)))
		}),
		newStubProbe("fills-b", []string{"b"}, func(ctx context.Context, ec ExecContext, target Target, record *ProbeRecord) {
			ok, _ := ec.Diag.PathExists(ctx, target.Host, `C:\Windows\SYSVOL`)
			if ok {
				record.Set("b", OKResult("present"))
			}
		}),
	}

	pipeline, err := NewPipeline(battery, diag, DefaultPipelineConfig())
	require.NoError(t, err)
	pipeline.WithClassifier(fixedClassifier(map[string]Reachability{
		"a-local": ReachLocal,
		"b-dead":  ReachUnreachable,
	}))

	records, err := pipeline.Run(context.Background(), []Target{
		{Host: "a-local", Domain: "corp.example.com"},
		{Host: "b-dead", Domain: "corp.example.com"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	local, dead := records[0], records[1]

	// Local target: fully populated via the (local-capable) acquisition paths.
	assert.Equal(t, ReachLocal, local.Reachability)
	assert.Equal(t, "Running", local.Get("a").String())
	assert.Equal(t, "present", local.Get("b").String())

	// Dead target: every dependent field carries the Unreachable sentinel.
	assert.Equal(t, ReachUnreachable, dead.Reachability)
	assert.Equal(t, ResultUnreachable, dead.Get("a").Kind)
	assert.Equal(t, ResultUnreachable, dead.Get("b").Kind)

	// Exactly the two calls for the local target; zero for the dead one.
	assert.EqualValues(t, 2, diag.Calls())
}

func TestPipeline_ProbePanicDoesNotAbortSiblings(t *testing.T) {
	battery := []Probe{
		newStubProbe("panics", []string{"broken"}, func(context.Context, ExecContext, Target, *ProbeRecord) {
			panic("probe blew up")
		}),
		newStubProbe("survives", []string{"fine"}, func(_ context.Context, _ ExecContext, _ Target, record *ProbeRecord) {
			record.Set("fine", OKResult("yes"))
		}),
	}

	pipeline, err := NewPipeline(battery, &countingDiag{}, DefaultPipelineConfig())
	require.NoError(t, err)
	pipeline.WithClassifier(fixedClassifier(nil))

	records, err := pipeline.Run(context.Background(), []Target{{Host: "dc01"}}, nil)
	require.NoError(t, err)

	rec := records[0]
	assert.Equal(t, ResultError, rec.Get("broken").Kind)
	assert.Contains(t, rec.Get("broken").String(), "probe blew up")
	assert.Equal(t, "yes", rec.Get("fine").String(), "sibling probes always execute")
}

func TestPipeline_RecordsInInputOrder(t *testing.T) {
	battery := []Probe{
		newStubProbe("noop", []string{"x"}, func(_ context.Context, _ ExecContext, target Target, record *ProbeRecord) {
			record.Set("x", OKResult(target.Host))
		}),
	}

	pipeline, err := NewPipeline(battery, &countingDiag{}, PipelineConfig{Concurrency: 3})
	require.NoError(t, err)
	pipeline.WithClassifier(fixedClassifier(nil))

	targets := []Target{{Host: "dc01"}, {Host: "dc02"}, {Host: "dc03"}, {Host: "dc04"}}
	records, err := pipeline.Run(context.Background(), targets, nil)
	require.NoError(t, err)
	require.Len(t, records, len(targets))
	for i, target := range targets {
		assert.Equal(t, target.Host, records[i].Target.Host)
		assert.Equal(t, target.Host, records[i].Get("x").String())
	}
}

func TestPipeline_TargetHook(t *testing.T) {
	battery := []Probe{newStubProbe("noop", []string{"x"}, nil)}
	pipeline, err := NewPipeline(battery, &countingDiag{}, DefaultPipelineConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	var done []string
	pipeline.WithClassifier(fixedClassifier(nil)).WithTargetHook(func(target Target, record *ProbeRecord) {
		mu.Lock()
		defer mu.Unlock()
		done = append(done, target.Host)
		assert.False(t, record.CompletedAt.IsZero())
	})

	_, err = pipeline.Run(context.Background(), []Target{{Host: "dc01"}, {Host: "dc02"}}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dc01", "dc02"}, done)
}

func TestClassifierConfigFor_PingTimeout(t *testing.T) {
	got := classifierConfigFor(PipelineConfig{PingTimeout: 500 * time.Millisecond})
	assert.Equal(t, 500*time.Millisecond, got.PingTimeout)

	// Zero keeps the classifier default.
	got = classifierConfigFor(PipelineConfig{})
	assert.Equal(t, DefaultClassifierConfig().PingTimeout, got.PingTimeout)
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := NewPipeline(nil, &countingDiag{}, DefaultPipelineConfig())
	assert.Error(t, err)

	_, err = NewPipeline([]Probe{newStubProbe("x", nil, nil)}, nil, DefaultPipelineConfig())
	assert.Error(t, err)
}
