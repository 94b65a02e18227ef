package env

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func lookup(kvs []string, key string) (string, bool) {
	for _, kv := range kvs {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	e := New()
	e.SetBase(map[string]string{"A": "base", "B": "base", "C": "base"})
	e.Set("B", "global")
	out := e.Merge(map[string]string{"C": "proc"})

	v, ok := lookup(out, "A")
	require.True(t, ok)
	require.Equal(t, "base", v)
	v, _ = lookup(out, "B")
	require.Equal(t, "global", v)
	v, _ = lookup(out, "C")
	require.Equal(t, "proc", v)
}

func TestMergeIsSortedAndSkipsEmptyKeys(t *testing.T) {
	e := New()
	e.SetBase(map[string]string{"Z": "1", "A": "2", "": "skipped"})
	out := e.Merge(map[string]string{"": "also-skipped", "M": "3"})
	require.Equal(t, []string{"A=2", "M=3", "Z=1"}, out)
}

func TestMergeDefaultsToOSBase(t *testing.T) {
	t.Setenv("AGENTDECK_ENV_TEST", "yes")
	e := New()
	out := e.Merge(nil)
	v, ok := lookup(out, "AGENTDECK_ENV_TEST")
	require.True(t, ok)
	require.Equal(t, "yes", v)
}

// Merge runs on every launch path, so a fresh Env must tolerate parallel
// first calls, each observing a fully captured base.
func TestMergeConcurrentFirstUse(t *testing.T) {
	t.Setenv("AGENTDECK_ENV_CONCURRENT", "yes")
	e := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := e.Merge(map[string]string{"PER_PROC": "v"})
			if _, ok := lookup(out, "AGENTDECK_ENV_CONCURRENT"); !ok {
				t.Error("base environment missing from merge")
			}
		}()
	}
	wg.Wait()
}

func TestExplicitBaseExcludesOSEnv(t *testing.T) {
	t.Setenv("AGENTDECK_ENV_LEAK", "nope")
	e := New()
	e.SetBase(map[string]string{"ONLY": "this"})
	out := e.Merge(nil)
	_, leaked := lookup(out, "AGENTDECK_ENV_LEAK")
	require.False(t, leaked)
	require.Equal(t, []string{"ONLY=this"}, out)
}
