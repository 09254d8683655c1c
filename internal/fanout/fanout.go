// Package fanout distributes auction context to bidder pools over
// publish/subscribe transports.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/StreetsDigital/aip-coordinator/internal/config"
	"github.com/StreetsDigital/aip-coordinator/internal/transport"
	"github.com/StreetsDigital/aip-coordinator/pkg/logger"
)

// ErrPublishFailed reports a failed publication: one pool's failure from a
// Publisher, or every pool failing from Fanout.Publish.
var ErrPublishFailed = errors.New("publish failed")

// Publisher delivers one payload to one pool
type Publisher interface {
	Publish(ctx context.Context, auctionID, pool string, payload map[string]interface{}) error
}

// LocalPublisher performs no network I/O; it logs delivery. Used for tests
// and single-process deployments.
type LocalPublisher struct{}

// Publish logs the delivery
func (LocalPublisher) Publish(_ context.Context, auctionID, pool string, _ map[string]interface{}) error {
	logger.Fanout().Info().
		Str("auction_id", auctionID).
		Str("pool", pool).
		Msg("local delivery")
	return nil
}

// TopicPublisher publishes to one managed topic per pool
type TopicPublisher struct {
	client *pubsub.Client
	prefix string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewTopicPublisher connects to the managed pub/sub service
func NewTopicPublisher(ctx context.Context, projectID, topicPrefix string) (*TopicPublisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("managed_topic backend requires project_id")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub connect: %w", err)
	}
	if topicPrefix == "" {
		topicPrefix = "aip-context"
	}
	return &TopicPublisher{
		client: client,
		prefix: topicPrefix,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// topicName derives the topic for a pool. A prefix already suffixed with the
// pool is used verbatim.
func (p *TopicPublisher) topicName(pool string) string {
	if strings.HasSuffix(p.prefix, pool) {
		return p.prefix
	}
	return p.prefix + "-" + pool
}

func (p *TopicPublisher) topic(pool string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := p.topicName(pool)
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}

// Publish sends the canonical JSON payload to the pool's topic and waits for
// the server acknowledgement.
func (p *TopicPublisher) Publish(ctx context.Context, auctionID, pool string, payload map[string]interface{}) error {
	body, err := transport.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPublishFailed, err)
	}
	result := p.topic(pool).Publish(ctx, &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"pool":       pool,
			"auction_id": auctionID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("%w: pool %s: %v", ErrPublishFailed, pool, err)
	}
	return nil
}

// Close stops topic publishers and the client
func (p *TopicPublisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}

// Fanout publishes one message per distinct pool. Pools are isolated: a
// publish failure abandons that pool only, the rest continue.
type Fanout struct {
	publisher Publisher
}

// New creates a fanout over the given publisher
func New(publisher Publisher) *Fanout {
	return &Fanout{publisher: publisher}
}

// Build constructs the fanout selected by the distribution configuration
func Build(ctx context.Context, cfg config.DistributionConfig) (*Fanout, error) {
	switch cfg.Backend {
	case config.DistributionLocal:
		return New(LocalPublisher{}), nil
	case config.DistributionManagedTopic:
		pub, err := NewTopicPublisher(ctx, cfg.Option("project_id"), cfg.Option("topic_prefix"))
		if err != nil {
			return nil, err
		}
		return New(pub), nil
	default:
		return nil, fmt.Errorf("unknown distribution backend %q", cfg.Backend)
	}
}

// Close releases the underlying publisher when it holds connections
func (f *Fanout) Close() error {
	if closer, ok := f.publisher.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Publish fans the payload out to every distinct pool concurrently and
// returns the pools that were published successfully, for the ledger audit
// trail. An error is returned only when every pool failed.
func (f *Fanout) Publish(ctx context.Context, auctionID string, pools []string, payload map[string]interface{}) ([]string, error) {
	distinct := dedupe(pools)
	if len(distinct) == 0 {
		return nil, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(distinct))
	for i, pool := range distinct {
		wg.Add(1)
		go func(i int, pool string) {
			defer wg.Done()
			errs[i] = f.publisher.Publish(ctx, auctionID, pool, payload)
		}(i, pool)
	}
	wg.Wait()

	published := make([]string, 0, len(distinct))
	for i, pool := range distinct {
		if errs[i] != nil {
			logger.Fanout().Warn().
				Err(errs[i]).
				Str("auction_id", auctionID).
				Str("pool", pool).
				Msg("pool publish failed")
			continue
		}
		published = append(published, pool)
	}
	if len(published) == 0 {
		return nil, fmt.Errorf("%w: all %d pools failed", ErrPublishFailed, len(distinct))
	}
	return published, nil
}

func dedupe(pools []string) []string {
	seen := make(map[string]struct{}, len(pools))
	out := make([]string, 0, len(pools))
	for _, pool := range pools {
		if _, ok := seen[pool]; ok {
			continue
		}
		seen[pool] = struct{}{}
		out = append(out, pool)
	}
	return out
}
