// Package classifier scores caller utterances against the problem catalog.
package classifier

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Urgency is how quickly an executor must respond.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyShort     Urgency = "short"
	UrgencyStandard  Urgency = "standard"
	UrgencyInfo      Urgency = "info"
)

// Valid reports whether u is one of the known levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyEmergency, UrgencyShort, UrgencyStandard, UrgencyInfo:
		return true
	}
	return false
}

// CatalogEntry is one problem category. Executor holds the resolved
// executor name, from ExecutorID when set and free text otherwise.
type CatalogEntry struct {
	ID           string   `json:"id" yaml:"id"`
	Problem      string   `json:"problem" yaml:"problem"`
	Type         string   `json:"type" yaml:"type"`
	Subtype      string   `json:"subtype" yaml:"subtype"`
	Location     string   `json:"location,omitempty" yaml:"location"`
	Response     string   `json:"response" yaml:"response"`
	ExecutorID   string   `json:"executor_id,omitempty" yaml:"executor_id"`
	Executor     string   `json:"executor" yaml:"executor"`
	Urgency      Urgency  `json:"urgency" yaml:"urgency"`
	ResponseTime int      `json:"response_time" yaml:"response_time"` // hours
	Keywords     []string `json:"keywords" yaml:"keywords"`
	IsActive     bool     `json:"is_active" yaml:"is_active"`
}

// Result is the disposition for one utterance.
type Result struct {
	ID            string  `json:"id"`
	Problem       string  `json:"problem"`
	Type          string  `json:"type"`
	Subtype       string  `json:"subtype"`
	Location      string  `json:"location,omitempty"`
	Response      string  `json:"response"`
	Executor      string  `json:"executor"`
	Urgency       Urgency `json:"urgency"`
	ResponseTime  int     `json:"response_time"`
	Confidence    float64 `json:"confidence"`
	NeedsOperator bool    `json:"needs_operator"`
}

const (
	keywordWeight  = 0.15
	subtypeBonus   = 0.2
	typeBonus      = 0.1
	minTypeToken   = 3
	matchThreshold = 0.2
	baseConfidence = 0.5
	maxConfidence  = 0.95
)

// Escalation is returned when no entry scores above the match threshold.
var Escalation = Result{
	ID:            "0",
	Problem:       "Загальне питання",
	Type:          "Консультація",
	Subtype:       "потребує оператора",
	Response:      "Вибачте, я не зміг точно визначити тип вашого звернення. Зачекайте, будь ласка, я переключу вас на оператора для детальної консультації.",
	Executor:      "Оператор контактного центру",
	Urgency:       UrgencyStandard,
	ResponseTime:  0,
	Confidence:    0.3,
	NeedsOperator: true,
}

// CatalogSource supplies the active catalog on reload.
type CatalogSource interface {
	ActiveCatalog(ctx context.Context) ([]CatalogEntry, error)
}

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

var defaultCatalog = sync.OnceValues(func() ([]CatalogEntry, error) {
	var entries []CatalogEntry
	if err := yaml.Unmarshal(defaultCatalogYAML, &entries); err != nil {
		return nil, fmt.Errorf("parse default catalog: %w", err)
	}
	return entries, nil
})

// DefaultCatalog returns a copy of the built-in catalog.
func DefaultCatalog() []CatalogEntry {
	entries, err := defaultCatalog()
	if err != nil {
		panic(err)
	}
	return prepare(entries)
}

// Classifier holds a read-only catalog snapshot swapped whole on Reload.
type Classifier struct {
	source   CatalogSource
	logger   *log.Logger
	snapshot atomic.Pointer[[]CatalogEntry]
	reloadMu sync.Mutex
}

// New starts with the built-in catalog; call Reload to pull from source.
func New(source CatalogSource, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.Default()
	}
	c := &Classifier{source: source, logger: logger}
	def := DefaultCatalog()
	c.snapshot.Store(&def)
	return c
}

// NewWithCatalog builds a classifier over a fixed catalog, in order.
func NewWithCatalog(entries []CatalogEntry) *Classifier {
	c := &Classifier{logger: log.Default()}
	p := prepare(entries)
	c.snapshot.Store(&p)
	return c
}

// Reload replaces the snapshot from the source. An empty or failing source
// installs the built-in catalog; a source error is still returned.
func (c *Classifier) Reload(ctx context.Context) (int, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	var (
		entries []CatalogEntry
		err     error
	)
	if c.source == nil {
		err = errors.New("no catalog source configured")
	} else {
		entries, err = c.source.ActiveCatalog(ctx)
	}

	next := prepare(entries)
	switch {
	case err != nil:
		c.logger.Printf("classifier: reload failed, using built-in catalog: %v", err)
		next = DefaultCatalog()
	case len(next) == 0:
		c.logger.Println("classifier: catalog empty, using built-in catalog")
		next = DefaultCatalog()
	default:
		c.logger.Printf("classifier: loaded %d catalog entries", len(next))
	}

	c.snapshot.Store(&next)
	if err != nil {
		return len(next), fmt.Errorf("reload catalog: %w", err)
	}
	return len(next), nil
}

// Len reports the size of the current snapshot.
func (c *Classifier) Len() int {
	return len(*c.snapshot.Load())
}

// Snapshot returns the entries currently used for scoring.
func (c *Classifier) Snapshot() []CatalogEntry {
	return *c.snapshot.Load()
}

// Classify picks the highest-scoring entry. On an exact tie the entry seen
// first in catalog order wins.
func (c *Classifier) Classify(utterance string) Result {
	entries := *c.snapshot.Load()
	query := strings.ToLower(utterance)

	var (
		best      *CatalogEntry
		bestScore float64
	)
	for i := range entries {
		s := Score(query, &entries[i])
		if s > bestScore {
			bestScore = s
			best = &entries[i]
		}
	}

	if best == nil || bestScore <= matchThreshold {
		return Escalation
	}
	return Result{
		ID:            best.ID,
		Problem:       best.Problem,
		Type:          best.Type,
		Subtype:       best.Subtype,
		Location:      best.Location,
		Response:      best.Response,
		Executor:      best.Executor,
		Urgency:       best.Urgency,
		ResponseTime:  best.ResponseTime,
		Confidence:    min(maxConfidence, baseConfidence+bestScore),
		NeedsOperator: false,
	}
}

// Score rates an already lowercased query against e, clamped to [0, 1].
func Score(query string, e *CatalogEntry) float64 {
	score := 0.0

	for _, kw := range e.Keywords {
		if kw != "" && strings.Contains(query, kw) {
			score += keywordWeight
		}
	}
	for _, w := range strings.Fields(strings.ToLower(e.Subtype)) {
		if strings.Contains(query, w) {
			score += subtypeBonus
			break
		}
	}
	for _, w := range strings.Fields(strings.ToLower(e.Type)) {
		if len([]rune(w)) > minTypeToken && strings.Contains(query, w) {
			score += typeBonus
			break
		}
	}

	return max(0, min(score, 1))
}

// prepare copies the active entries with keywords lowercased.
func prepare(entries []CatalogEntry) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsActive {
			continue
		}
		kws := make([]string, 0, len(e.Keywords))
		for _, k := range e.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kws = append(kws, k)
			}
		}
		e.Keywords = kws
		out = append(out, e)
	}
	return out
}
