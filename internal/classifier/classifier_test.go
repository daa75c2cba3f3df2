package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogWaterOutage(t *testing.T) {
	c := New(nil, log.New(io.Discard, "", 0))

	res := c.Classify("Немає холодної води в будинку з самого ранку")

	assert.False(t, res.NeedsOperator)
	assert.Equal(t, "6", res.ID)
	assert.Equal(t, "Холодна вода", res.Type)
	assert.Equal(t, "відсутність води", res.Subtype)
	assert.Equal(t, UrgencyEmergency, res.Urgency)
	assert.Equal(t, "Служба водопостачання", res.Executor)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
}

func TestDefaultCatalogUnrelatedEscalates(t *testing.T) {
	c := New(nil, log.New(io.Discard, "", 0))

	res := c.Classify("розкажіть анекдот")

	assert.True(t, res.NeedsOperator)
	assert.Equal(t, Escalation, res)
	assert.Equal(t, 0.3, res.Confidence)
}

func TestDefaultCatalogSamples(t *testing.T) {
	c := New(nil, log.New(io.Discard, "", 0))
	tests := []struct {
		utterance string
		wantID    string
	}{
		{"Доброго дня, у нас немає опалення вже другий день", "4"},
		{"На мою машину впало дерево, потрібна допомога", "2"},
		{"Протікає стеля у квартирі", "3"},
		{"Застряг ліфт у під'їзді", "9"},
	}
	for _, tc := range tests {
		t.Run(tc.utterance, func(t *testing.T) {
			res := c.Classify(tc.utterance)
			assert.False(t, res.NeedsOperator)
			assert.Equal(t, tc.wantID, res.ID)
		})
	}
}

func TestScoreComponents(t *testing.T) {
	e := &CatalogEntry{
		Type:     "Холодна вода",
		Subtype:  "відсутність води",
		Keywords: []string{"кран", "труба"},
	}
	tests := []struct {
		name  string
		query string
		want  float64
	}{
		{"nothing", "привіт", 0},
		{"one keyword", "зламався кран", 0.15},
		{"two keywords", "кран і труба", 0.30},
		{"subtype token once", "води немає, води нема", 0.2},
		{"type token", "холодна батарея", 0.1},
		{"four-rune type token counts", "вода", 0.1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Score(tc.query, e), 1e-9)
		})
	}
}

func TestScoreTypeTokenLengthCountsRunes(t *testing.T) {
	// "вода" is 4 runes but 8 bytes; it must count as longer than 3.
	e := &CatalogEntry{Type: "вода", Subtype: "x"}
	assert.InDelta(t, 0.1, Score("вода", e), 1e-9)

	short := &CatalogEntry{Type: "дах", Subtype: "x"}
	assert.Zero(t, Score("дах", short))
}

func TestScoreClamped(t *testing.T) {
	kws := make([]string, 10)
	for i := range kws {
		kws[i] = fmt.Sprintf("k%d", i)
	}
	e := &CatalogEntry{Keywords: kws, Subtype: "k0", Type: "k1k1"}
	q := "k0 k1 k2 k3 k4 k5 k6 k7 k8 k9 k1k1"
	assert.Equal(t, 1.0, Score(q, e))
}

func TestConfidenceBounds(t *testing.T) {
	c := NewWithCatalog([]CatalogEntry{
		{ID: "a", Subtype: "zz", Type: "zz", Keywords: []string{"один", "два"}, IsActive: true},
	})
	for _, q := range []string{"", "один", "один два", "два один один", "щось інше"} {
		res := c.Classify(q)
		if res.NeedsOperator {
			assert.Equal(t, 0.3, res.Confidence)
			continue
		}
		assert.Greater(t, res.Confidence, 0.5)
		assert.LessOrEqual(t, res.Confidence, 0.95)
	}
}

func TestThresholdIsStrict(t *testing.T) {
	c := NewWithCatalog([]CatalogEntry{
		{ID: "a", Subtype: "zz", Type: "zz", Keywords: []string{"кран", "труба"}, IsActive: true},
		{ID: "b", Subtype: "труба", Type: "zz", IsActive: true},
	})
	// 0.15 and 0.2 both fall at or below the threshold.
	assert.True(t, c.Classify("кран").NeedsOperator)
	assert.True(t, c.Classify("труба").NeedsOperator)

	res := c.Classify("кран труба")
	assert.False(t, res.NeedsOperator)
	assert.Equal(t, "a", res.ID)
}

func TestTieBreakFirstSeenWins(t *testing.T) {
	entries := []CatalogEntry{
		{ID: "first", Subtype: "zz", Type: "zz", Keywords: []string{"вода", "кран"}, IsActive: true},
		{ID: "second", Subtype: "zz", Type: "zz", Keywords: []string{"вода", "кран"}, IsActive: true},
	}
	assert.Equal(t, "first", NewWithCatalog(entries).Classify("вода з крану").ID)

	entries[0], entries[1] = entries[1], entries[0]
	assert.Equal(t, "second", NewWithCatalog(entries).Classify("вода з крану").ID)
}

func TestInactiveEntriesIgnored(t *testing.T) {
	c := NewWithCatalog([]CatalogEntry{
		{ID: "off", Subtype: "zz", Type: "zz", Keywords: []string{"ліфт", "застряг"}, IsActive: false},
	})
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Classify("застряг ліфт").NeedsOperator)
}

func TestKeywordsNormalized(t *testing.T) {
	c := NewWithCatalog([]CatalogEntry{
		{ID: "a", Subtype: "zz", Type: "zz", Keywords: []string{" ЛІФТ ", "Застряг", ""}, IsActive: true},
	})
	assert.Equal(t, []string{"ліфт", "застряг"}, c.Snapshot()[0].Keywords)
	assert.Equal(t, "a", c.Classify("Застряг ЛІФТ").ID)
}

type stubSource struct {
	entries []CatalogEntry
	err     error
}

func (s *stubSource) ActiveCatalog(context.Context) ([]CatalogEntry, error) {
	return s.entries, s.err
}

func TestReloadReplacesSnapshot(t *testing.T) {
	src := &stubSource{entries: []CatalogEntry{
		{ID: "x", Subtype: "анекдот", Type: "zz", Keywords: []string{"розкажіть"}, IsActive: true},
	}}
	c := New(src, log.New(io.Discard, "", 0))
	require.True(t, c.Classify("розкажіть анекдот").NeedsOperator)

	n, err := c.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "x", c.Classify("розкажіть анекдот").ID)
}

func TestReloadFallsBackToBuiltIn(t *testing.T) {
	defaultLen := len(DefaultCatalog())

	empty := New(&stubSource{}, log.New(io.Discard, "", 0))
	n, err := empty.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultLen, n)

	failing := New(&stubSource{err: errors.New("db down")}, log.New(io.Discard, "", 0))
	n, err = failing.Reload(context.Background())
	assert.Error(t, err)
	assert.Equal(t, defaultLen, n)
	assert.Equal(t, defaultLen, failing.Len())
}

func TestDefaultCatalogIsValid(t *testing.T) {
	entries := DefaultCatalog()
	require.NotEmpty(t, entries)
	seen := map[string]bool{}
	for _, e := range entries {
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
		assert.True(t, e.Urgency.Valid(), "entry %s urgency %q", e.ID, e.Urgency)
		assert.GreaterOrEqual(t, e.ResponseTime, 0)
		assert.NotEmpty(t, e.Keywords)
	}
}

// Readers racing Reload must only ever see one whole catalog.
func TestReloadIsAtomicUnderConcurrentClassify(t *testing.T) {
	catalogA := []CatalogEntry{
		{ID: "A1", Problem: "A", Subtype: "zz", Type: "zz", Keywords: []string{"alpha", "beta"}, IsActive: true},
		{ID: "A2", Problem: "A", Subtype: "zz", Type: "zz", Keywords: []string{"gamma"}, IsActive: true},
	}
	catalogB := []CatalogEntry{
		{ID: "B1", Problem: "B", Subtype: "zz", Type: "zz", Keywords: []string{"alpha", "beta"}, IsActive: true},
		{ID: "B2", Problem: "B", Subtype: "zz", Type: "zz", Keywords: []string{"gamma"}, IsActive: true},
	}

	src := &swapSource{}
	src.set(catalogA)
	c := New(src, log.New(io.Discard, "", 0))
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				src.set(catalogB)
			} else {
				src.set(catalogA)
			}
			_, _ = c.Reload(context.Background())
		}
		close(stop)
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := c.Snapshot()
				if !assert.Len(t, snap, 2) {
					return
				}
				assert.Equal(t, snap[0].Problem, snap[1].Problem, "snapshot mixes catalogs")

				res := c.Classify("alpha beta")
				assert.Contains(t, []string{"A1", "B1"}, res.ID)
				assert.Equal(t, res.ID[:1], res.Problem)
			}
		}()
	}
	wg.Wait()
}

type swapSource struct {
	mu      sync.Mutex
	entries []CatalogEntry
}

func (s *swapSource) set(e []CatalogEntry) {
	s.mu.Lock()
	s.entries = e
	s.mu.Unlock()
}

func (s *swapSource) ActiveCatalog(context.Context) ([]CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries, nil
}
