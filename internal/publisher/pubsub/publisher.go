// Package pubsub publishes evaluation hand-off notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Publisher implements evaluation.Publisher. Topic handles are created on
// first use and stopped by Close.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	attrs        map[string]string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithAttributes adds fixed attributes to every message.
func WithAttributes(attrs map[string]string) Option {
	return func(p *Publisher) {
		for k, v := range attrs {
			p.attrs[k] = v
		}
	}
}

// New wraps client. defaultTopic is used when Publish receives an empty topic.
func New(client *pubsub.Client, defaultTopic string, opts ...Option) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	p := &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		attrs:        map[string]string{"content_type": "application/json"},
		topics:       make(map[string]*pubsub.Topic),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish marshals payload to JSON, publishes it and waits for the server id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := make(map[string]string, len(p.attrs))
	for k, v := range p.attrs {
		attrs[k] = v
	}

	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
