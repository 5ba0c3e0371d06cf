package fieldsync

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/fields"
	"github.com/agentstation/fieldsync/pkg/store"
	"github.com/agentstation/fieldsync/pkg/transforms"
)

// Option is a function that configures a Client
type Option func(*config) error

// config holds the collaborators a Client is built from
type config struct {
	store        store.Store
	ownsStore    bool
	registry     *connectors.Registry
	ownsRegistry bool
	logger       *zerolog.Logger
	fields       *fields.Registry
	fieldsFile   string
	transforms   *transforms.Registry
	locker       engine.Locker
	events       engine.EventSink
	metrics      engine.Metrics
	now          func() time.Time
	batchSize    int
	cacheFresh   time.Duration
	cacheStale   time.Duration
}

func defaultConfig() *config {
	return &config{
		now:        time.Now,
		batchSize:  constants.DefaultBatchSize,
		cacheFresh: constants.CacheFreshWindow,
		cacheStale: constants.CacheStaleWindow,
	}
}

// WithStore sets the persistence collaborator. The caller keeps ownership
// and closes it.
func WithStore(st store.Store) Option {
	return func(c *config) error {
		if st == nil {
			return fmt.Errorf("store is nil")
		}
		c.store = st
		return nil
	}
}

// WithConnectors replaces the built-in connector registry.
func WithConnectors(r *connectors.Registry) Option {
	return func(c *config) error {
		if r == nil {
			return fmt.Errorf("connector registry is nil")
		}
		c.registry = r
		return nil
	}
}

// WithLogger sets the logger used by the client and the engine
func WithLogger(l *zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}

// WithFields sets the entity field registry.
func WithFields(r *fields.Registry) Option {
	return func(c *config) error {
		c.fields = r
		return nil
	}
}

// WithFieldsFile extends the built-in entity kinds with a YAML file.
func WithFieldsFile(path string) Option {
	return func(c *config) error {
		c.fieldsFile = path
		return nil
	}
}

// WithTransforms sets the transform registry.
func WithTransforms(r *transforms.Registry) Option {
	return func(c *config) error {
		c.transforms = r
		return nil
	}
}

// WithLocker enables per-entity advisory locks.
func WithLocker(l engine.Locker) Option {
	return func(c *config) error {
		c.locker = l
		return nil
	}
}

// WithEvents adds an audit event sink. Registered hooks still run.
func WithEvents(s engine.EventSink) Option {
	return func(c *config) error {
		c.events = s
		return nil
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m engine.Metrics) Option {
	return func(c *config) error {
		c.metrics = m
		return nil
	}
}

// WithClock sets the clock used for timestamps and year-less dates.
func WithClock(now func() time.Time) Option {
	return func(c *config) error {
		if now == nil {
			return fmt.Errorf("clock is nil")
		}
		c.now = now
		return nil
	}
}

// WithBatchSize sets how many creates are written per bulk insert.
func WithBatchSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		c.batchSize = n
		return nil
	}
}

// WithCacheWindows sets the stale-while-revalidate windows of cached
// connectors.
func WithCacheWindows(fresh, stale time.Duration) Option {
	return func(c *config) error {
		if fresh <= 0 || stale < fresh {
			return fmt.Errorf("invalid cache windows: fresh %s, stale %s", fresh, stale)
		}
		c.cacheFresh = fresh
		c.cacheStale = stale
		return nil
	}
}
