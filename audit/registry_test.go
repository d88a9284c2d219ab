package audit

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgstrict/pgstrict/cfg"
)

func init() {
	// Register mock sinks for tests
	// This avoids an import cycle with the sink package
	RegisterSink(cfg.SinkKafka, func(config cfg.SinkConfiguration) (Sink, error) {
		return &mockRegistrySink{}, nil
	})
	RegisterSink(cfg.SinkType("capture"), func(config cfg.SinkConfiguration) (Sink, error) {
		captureMu.Lock()
		defer captureMu.Unlock()
		captured := &mockSink{}
		captureSinks = append(captureSinks, captured)
		return captured, nil
	})
}

// mockRegistrySink is a simple discarding mock for registry testing
type mockRegistrySink struct{}

func (m *mockRegistrySink) Publish(topic, key string, value []byte) error {
	return nil
}

func (m *mockRegistrySink) Close() error {
	return nil
}

// capture factory state, for the integration test
var (
	captureMu    sync.Mutex
	captureSinks []*mockSink
)

func takeCaptureSink(t *testing.T) *mockSink {
	t.Helper()
	captureMu.Lock()
	defer captureMu.Unlock()
	require.NotEmpty(t, captureSinks, "no capture sink created")
	s := captureSinks[len(captureSinks)-1]
	captureSinks = captureSinks[:len(captureSinks)-1]
	return s
}

func TestNewRegistry(t *testing.T) {
	t.Run("creates registry successfully", func(t *testing.T) {
		config := RegistryConfig{
			SpoolPath:   t.TempDir(),
			SinkConfigs: []cfg.SinkConfiguration{},
		}

		registry, err := NewRegistry(config)
		require.NoError(t, err)
		require.NotNil(t, registry)
		assert.NotNil(t, registry.spool)
		assert.Empty(t, registry.workers)

		require.NoError(t, registry.Start())
		registry.Stop()
	})

	t.Run("requires spool path", func(t *testing.T) {
		config := RegistryConfig{
			SpoolPath:   "",
			SinkConfigs: []cfg.SinkConfiguration{},
		}

		registry, err := NewRegistry(config)
		assert.Error(t, err)
		assert.Nil(t, registry)
		assert.Contains(t, err.Error(), "spool path is required")
	})

	t.Run("creates spool directory", func(t *testing.T) {
		spoolDir := filepath.Join(t.TempDir(), "test_registry")
		config := RegistryConfig{
			SpoolPath:   spoolDir,
			SinkConfigs: []cfg.SinkConfiguration{},
		}

		registry, err := NewRegistry(config)
		require.NoError(t, err)
		require.NoError(t, registry.Start())
		defer registry.Stop()

		_, err = os.Stat(filepath.Join(spoolDir, "audit_spool"))
		assert.NoError(t, err, "audit spool directory should exist")
	})
}

func TestRegistryAddSink(t *testing.T) {
	t.Run("adds kafka sink successfully", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)
		require.NoError(t, registry.Start())
		defer registry.Stop()

		sinkConfig := cfg.SinkConfiguration{
			Type:    cfg.SinkKafka,
			Brokers: []string{"localhost:9092"},
			Topic:   "pgstrict-violations",
			Filter:  "*",
		}

		err = registry.AddSink(sinkConfig)
		require.NoError(t, err)
		require.Len(t, registry.workers, 1)

		// Cursor name is derived from type and topic
		assert.Equal(t, "kafka:pgstrict-violations", registry.workers[0].config.Name)
		assert.Equal(t, "pgstrict-violations", registry.workers[0].config.Topic)
	})

	t.Run("rejects unknown sink type", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)
		require.NoError(t, registry.Start())
		defer registry.Stop()

		err = registry.AddSink(cfg.SinkConfiguration{Type: cfg.SinkType("unknown")})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown sink type")
	})

	t.Run("rejects invalid filter pattern", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)
		require.NoError(t, registry.Start())
		defer registry.Stop()

		err = registry.AddSink(cfg.SinkConfiguration{
			Type:    cfg.SinkKafka,
			Brokers: []string{"localhost:9092"},
			Topic:   "pgstrict-violations",
			Filter:  "DELETE:[",
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create filter")
	})

	t.Run("adds multiple sinks", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)
		require.NoError(t, registry.Start())
		defer registry.Stop()

		topics := []string{"violations", "violations-deletes", "violations-updates"}
		for _, topic := range topics {
			err = registry.AddSink(cfg.SinkConfiguration{
				Type:    cfg.SinkKafka,
				Brokers: []string{"localhost:9092"},
				Topic:   topic,
			})
			require.NoError(t, err)
		}

		assert.Len(t, registry.workers, 3)
	})
}

func TestRegistryWithSinkConfigs(t *testing.T) {
	t.Run("creates workers from initial config", func(t *testing.T) {
		sinkConfigs := []cfg.SinkConfiguration{
			{
				Type:    cfg.SinkKafka,
				Brokers: []string{"localhost:9092"},
				Topic:   "pgstrict-violations",
				Filter:  "*",
			},
			{
				Type:    cfg.SinkKafka,
				Brokers: []string{"localhost:9092"},
				Topic:   "pgstrict-deletes",
				Filter:  "DELETE:*",
			},
		}

		registry, err := NewRegistry(RegistryConfig{
			SpoolPath:   t.TempDir(),
			SinkConfigs: sinkConfigs,
		})
		require.NoError(t, err)
		require.NoError(t, registry.Start())
		defer registry.Stop()

		assert.Len(t, registry.workers, 2)
	})

	t.Run("cleanup on init error", func(t *testing.T) {
		sinkConfigs := []cfg.SinkConfiguration{
			{
				Type:    cfg.SinkKafka,
				Brokers: []string{"localhost:9092"},
				Topic:   "pgstrict-violations",
			},
			{
				Type: cfg.SinkType("unknown"), // This will fail
			},
		}

		registry, err := NewRegistry(RegistryConfig{
			SpoolPath:   t.TempDir(),
			SinkConfigs: sinkConfigs,
		})
		assert.Error(t, err)
		assert.Nil(t, registry)
	})
}

func TestRegistryLifecycle(t *testing.T) {
	t.Run("start and stop lifecycle", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{
			SpoolPath: t.TempDir(),
			SinkConfigs: []cfg.SinkConfiguration{
				{Type: cfg.SinkKafka, Brokers: []string{"localhost:9092"}, Topic: "pgstrict-violations"},
			},
		})
		require.NoError(t, err)

		// Should not be running initially
		assert.False(t, registry.running.Load())

		err = registry.Start()
		require.NoError(t, err)
		assert.True(t, registry.running.Load())

		// Allow workers to start
		time.Sleep(50 * time.Millisecond)

		registry.Stop()
		assert.False(t, registry.running.Load())
	})

	t.Run("prevents double start", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)
		defer registry.Stop()

		err = registry.Start()
		require.NoError(t, err)

		err = registry.Start()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already running")
	})

	t.Run("handles stop when not running", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			registry.Stop()
		})
	})

	t.Run("stops all workers", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{
			SpoolPath: t.TempDir(),
			SinkConfigs: []cfg.SinkConfiguration{
				{Type: cfg.SinkKafka, Brokers: []string{"localhost:9092"}, Topic: "t1"},
				{Type: cfg.SinkKafka, Brokers: []string{"localhost:9092"}, Topic: "t2"},
				{Type: cfg.SinkKafka, Brokers: []string{"localhost:9092"}, Topic: "t3"},
			},
		})
		require.NoError(t, err)

		err = registry.Start()
		require.NoError(t, err)

		// Allow workers to start
		time.Sleep(50 * time.Millisecond)

		for _, worker := range registry.workers {
			assert.True(t, worker.running.Load())
		}

		registry.Stop()

		for _, worker := range registry.workers {
			assert.False(t, worker.running.Load())
		}
	})
}

func TestRegistryAppend(t *testing.T) {
	t.Run("appends events successfully", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)
		defer registry.Stop()

		err = registry.Start()
		require.NoError(t, err)

		err = registry.Append([]Event{testEvent(1, "DELETE")})
		assert.NoError(t, err)
	})

	t.Run("rejects append when not running", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)

		// Don't start the registry

		err = registry.Append([]Event{testEvent(1, "UPDATE")})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not running")

		registry.spool.Close()
	})

	t.Run("appends empty event list", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{SpoolPath: t.TempDir()})
		require.NoError(t, err)
		defer registry.Stop()

		err = registry.Start()
		require.NoError(t, err)

		err = registry.Append([]Event{})
		assert.NoError(t, err)
	})
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "pgstrict.violations", topicFor(cfg.SinkConfiguration{
		Type:    cfg.SinkNATS,
		Subject: "pgstrict.violations",
	}))
	assert.Equal(t, "pgstrict-violations", topicFor(cfg.SinkConfiguration{
		Type:  cfg.SinkKafka,
		Topic: "pgstrict-violations",
	}))
}

func TestCreateSink(t *testing.T) {
	t.Run("creates registered sink", func(t *testing.T) {
		snk, err := createSink(cfg.SinkConfiguration{
			Type:    cfg.SinkKafka,
			Brokers: []string{"localhost:9092"},
		})
		require.NoError(t, err)
		require.NotNil(t, snk)
		defer snk.Close()
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		snk, err := createSink(cfg.SinkConfiguration{Type: cfg.SinkType("unknown")})
		assert.Error(t, err)
		assert.Nil(t, snk)
		assert.Contains(t, err.Error(), "unknown sink type")
	})
}

func TestRegistryIntegration(t *testing.T) {
	t.Run("end-to-end delivery", func(t *testing.T) {
		registry, err := NewRegistry(RegistryConfig{
			SpoolPath: t.TempDir(),
			SinkConfigs: []cfg.SinkConfiguration{
				{Type: cfg.SinkType("capture"), Topic: "pgstrict-violations", Filter: "DELETE:*"},
			},
		})
		require.NoError(t, err)
		captured := takeCaptureSink(t)

		err = registry.Start()
		require.NoError(t, err)

		err = registry.Append([]Event{
			testEvent(11, "DELETE"),
			testEvent(12, "UPDATE"), // Filtered out
			testEvent(13, "DELETE"),
		})
		require.NoError(t, err)

		waitForEvents(t, captured, 2, 2*time.Second)

		published := captured.getEvents()
		require.Len(t, published, 2)
		assert.Equal(t, "pgstrict-violations", published[0].topic)
		assert.Equal(t, "11", published[0].key)
		assert.Equal(t, "13", published[1].key)

		// Cursor advance trails the final publish, poll until it lands
		deadline := time.Now().Add(2 * time.Second)
		pending := -1
		for time.Now().Before(deadline) {
			pending, err = registry.Spool().PendingEvents()
			require.NoError(t, err)
			if pending == 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		assert.Equal(t, 0, pending, "every event should be consumed")

		registry.Stop()
		assert.False(t, registry.running.Load())
	})
}
