package cookiejar

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJar_RecordAndHeader(t *testing.T) {
	t.Parallel()

	j := New()
	skipped := j.Record([]string{
		"JSESSIONID=ABC123; Path=/WebUntis; HttpOnly",
		`schoolname="_dGVzdA=="; Path=/`,
		"garbage-without-equals",
		"=novalue",
	}, "example.webuntis.com")

	require.Equal(t, 2, skipped)
	require.Equal(t, `JSESSIONID=ABC123; schoolname=_dGVzdA==`, j.HeaderFor("example.webuntis.com"))
	require.Equal(t, "", j.HeaderFor("other.webuntis.com"))
}

func TestJar_OverwritesKeepingOrder(t *testing.T) {
	t.Parallel()

	j := New()
	j.Record([]string{"a=1", "b=2"}, "d")
	j.Record([]string{"a=3"}, "d")
	require.Equal(t, "a=3; b=2", j.HeaderFor("d"))
}

func TestJar_Clear(t *testing.T) {
	t.Parallel()

	j := New()
	j.Record([]string{"a=1"}, "d1")
	j.Record([]string{"b=2"}, "d2")

	j.Clear("d1")
	require.Equal(t, "", j.HeaderFor("d1"))
	require.Equal(t, "b=2", j.HeaderFor("d2"))

	j.ClearAll()
	require.Equal(t, "", j.HeaderFor("d2"))
}

func TestJar_DomainPrefixIsExact(t *testing.T) {
	t.Parallel()

	j := New()
	j.Record([]string{"a=1"}, "host")
	j.Record([]string{"b=2"}, "host:8080")
	require.Equal(t, "a=1", j.HeaderFor("host"))
	require.Equal(t, "b=2", j.HeaderFor("host:8080"))
}

func TestJar_RecordHeaderReturnsOwnPairsOnly(t *testing.T) {
	t.Parallel()

	j := New()
	j.Record([]string{"JSESSIONID=S-alice", "traceId=alice-only"}, "d")

	got := j.RecordHeader([]string{"JSESSIONID=S-bob; Path=/", "lang=de"}, "d")
	require.Equal(t, "JSESSIONID=S-bob; lang=de", got)
	require.Equal(t, "JSESSIONID=S-bob; traceId=alice-only; lang=de", j.HeaderFor("d"))
}

func TestJar_RecordHeaderConcurrentSameDomain(t *testing.T) {
	t.Parallel()

	j := New()
	const n = 50
	got := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = j.RecordHeader([]string{fmt.Sprintf("JSESSIONID=S%d; HttpOnly", i)}, "school.webuntis.com")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("JSESSIONID=S%d", i), got[i])
	}
}
