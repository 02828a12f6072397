// Package kafka bridges broker topics onto the in-process bus.
//
// Each consumed record is decoded as JSON into the message type of its bus
// topic and published synchronously, so a slow store slows the consumer
// down instead of buffering without bound. Offsets are committed after the
// records of a poll have been published.
package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
	"github.com/xtxerr/tlmarchive/internal/message"
)

var log = logging.Component("kafka")

// Publisher receives decoded messages.
type Publisher interface {
	Publish(topic string, msg any) int
}

// Config configures a Bridge.
type Config struct {
	Brokers []string
	Group   string

	// Topics maps broker topic names to bus topics.
	Topics map[string]string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.NewInvalidConfig("kafka.brokers", "at least one broker required"))
	}
	if c.Group == "" {
		errs = append(errs, errors.NewInvalidConfig("kafka.group", "must not be empty"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.NewInvalidConfig("kafka.topics", "at least one topic required"))
	}
	for from, to := range c.Topics {
		if _, err := message.New(to); err != nil {
			errs = append(errs, errors.NewInvalidConfig("kafka.topics."+from, fmt.Sprintf("unknown bus topic %q", to)))
		}
	}
	return errors.Join(errs...)
}

// Stats holds bridge counters.
type Stats struct {
	Records      int64
	DecodeErrors int64
	Undelivered  int64
	FetchErrors  int64
	CommitErrors int64
}

// Bridge consumes broker topics and publishes onto the bus.
type Bridge struct {
	cfg    Config
	pub    Publisher
	client *kgo.Client

	records      atomic.Int64
	decodeErrors atomic.Int64
	undelivered  atomic.Int64
	fetchErrors  atomic.Int64
	commitErrors atomic.Int64
}

// New creates a bridge and its consumer group client.
func New(cfg Config, pub Publisher) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	topics := make([]string, 0, len(cfg.Topics))
	for t := range cfg.Topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}

	return &Bridge{cfg: cfg, pub: pub, client: client}, nil
}

// Run polls until ctx ends or the client is closed.
func (b *Bridge) Run(ctx context.Context) error {
	log.Info("kafka bridge started", "brokers", b.cfg.Brokers, "group", b.cfg.Group, "topics", len(b.cfg.Topics))

	for {
		fetches := b.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Fetch errors are retried internally; the ones returned here are
		// only reported.
		fetches.EachError(func(topic string, partition int32, err error) {
			b.fetchErrors.Add(1)
			log.Warn("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			if err := b.dispatch(rec.Topic, rec.Value); err != nil {
				log.Warn("kafka record dropped", "topic", rec.Topic, "offset", rec.Offset, "error", err)
			}
		}

		if err := b.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			b.commitErrors.Add(1)
			log.Warn("kafka commit failed", "error", err)
		}
	}
}

func (b *Bridge) dispatch(topic string, value []byte) error {
	b.records.Add(1)

	busTopic, ok := b.cfg.Topics[topic]
	if !ok {
		b.decodeErrors.Add(1)
		return fmt.Errorf("no bus topic for %q", topic)
	}

	msg, err := message.Decode(busTopic, value)
	if err != nil {
		b.decodeErrors.Add(1)
		return err
	}

	if b.pub.Publish(busTopic, msg) == 0 {
		b.undelivered.Add(1)
	}
	return nil
}

// Stats returns bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Records:      b.records.Load(),
		DecodeErrors: b.decodeErrors.Load(),
		Undelivered:  b.undelivered.Load(),
		FetchErrors:  b.fetchErrors.Load(),
		CommitErrors: b.commitErrors.Load(),
	}
}

// Close leaves the consumer group and closes the client. Run returns once
// the client is closed.
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Close()
	}
}
