package events

import (
	"context"
	"time"

	"kgqa_agent/pkg/logger"

	"github.com/elastic/go-elasticsearch/v7"
)

const (
	DefaultIndex         = "kgqa_events"
	DefaultBatchSize     = 32
	DefaultFlushInterval = time.Second
)

// ESConsumer indexes emitted events into Elasticsearch in batches. A batch is
// flushed when it reaches the batch size, when the flush interval elapses, and
// once more when the subscription closes.
type ESConsumer struct {
	es       *elasticsearch.Client
	index    string
	size     int
	interval time.Duration
	done     chan struct{}
}

type ConsumerOption func(*ESConsumer)

func WithBatchSize(n int) ConsumerOption {
	return func(c *ESConsumer) {
		if n > 0 {
			c.size = n
		}
	}
}

func WithFlushInterval(d time.Duration) ConsumerOption {
	return func(c *ESConsumer) {
		if d > 0 {
			c.interval = d
		}
	}
}

// NewESConsumer creates a consumer writing to index (DefaultIndex when empty).
// Call Start to begin consuming.
func NewESConsumer(es *elasticsearch.Client, index string, opts ...ConsumerOption) *ESConsumer {
	if index == "" {
		index = DefaultIndex
	}
	c := &ESConsumer{
		es:       es,
		index:    index,
		size:     DefaultBatchSize,
		interval: DefaultFlushInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to emitter and returns immediately. Done is closed after the
// last batch has been written.
func (c *ESConsumer) Start(emitter Emitter) {
	ch := emitter.Subscribe()
	go c.run(ch)
}

func (c *ESConsumer) run(ch <-chan Event) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	batch := make([]logger.Doc, 0, c.size)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				c.flush(batch)
				return
			}
			batch = append(batch, c.doc(evt))
			if len(batch) >= c.size {
				c.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			c.flush(batch)
			batch = batch[:0]
		}
	}
}

func (c *ESConsumer) doc(evt Event) logger.Doc {
	return logger.Doc{
		Index:   c.index,
		Kind:    evt.Type,
		Session: evt.SessionID,
		At:      evt.Timestamp,
		Body:    evt.Data,
	}
}

func (c *ESConsumer) flush(batch []logger.Doc) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), logger.WriteTimeout)
	defer cancel()
	if err := logger.IndexDocs(ctx, c.es, batch); err != nil {
		logger.Warnf("[ESConsumer] failed to index %d events: %v", len(batch), err)
	}
}

// Done is closed once the consumer has drained its subscription.
func (c *ESConsumer) Done() <-chan struct{} {
	return c.done
}
