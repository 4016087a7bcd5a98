package broker

import "time"

// Names of the fanout demo topology.
const (
	TopicFanout      = "demo-fanout-topic"
	QueueFulfillment = "demo-fulfill-sqs"
	QueueAnalytics   = "demo-analytics-sqs"
	QueueShipping    = "demo-shipping-sqs"
	QueueThrottle    = "demo-thr"

	DeadLetterSuffix = "-dlq"
)

// DeadLetterName returns the dead-letter queue paired with queue.
func DeadLetterName(queue string) string {
	return queue + DeadLetterSuffix
}

// Topology describes the queues and subscriptions Provision creates.
type Topology struct {
	Topic             string
	MaxReceiveCount   int
	VisibilityTimeout time.Duration
}

// Subscription filter policies of the fanout topic.
var (
	FulfillmentFilter = FilterPolicy{"eventType": {"OrderPlaced", "OrderUpdated"}}
	AnalyticsFilter   = FilterPolicy{"eventType": {"OrderPlaced", "OrderShipped"}, "priority": {"high"}}
	ShippingFilter    = FilterPolicy{"eventType": {"OrderShipped"}}
)

// MonitoredQueues lists the queues shown on dashboards, each followed by its DLQ.
func MonitoredQueues() []string {
	var out []string
	for _, q := range []string{QueueFulfillment, QueueAnalytics, QueueShipping, QueueThrottle} {
		out = append(out, q, DeadLetterName(q))
	}
	return out
}

// Provision creates the fanout topic, the consumer and throttling queues,
// their dead-letter queues and the filtered subscriptions.
func (b *Broker) Provision(t Topology) error {
	if t.Topic == "" {
		t.Topic = TopicFanout
	}
	if t.MaxReceiveCount <= 0 {
		t.MaxReceiveCount = 3
	}

	for _, q := range []string{QueueFulfillment, QueueAnalytics, QueueShipping, QueueThrottle} {
		if err := b.CreateQueue(DeadLetterName(q), QueueOptions{VisibilityTimeout: t.VisibilityTimeout}); err != nil {
			return err
		}
		if err := b.CreateQueue(q, QueueOptions{
			VisibilityTimeout: t.VisibilityTimeout,
			MaxReceiveCount:   t.MaxReceiveCount,
			DeadLetterQueue:   DeadLetterName(q),
		}); err != nil {
			return err
		}
	}

	b.CreateTopic(t.Topic)
	subs := []struct {
		queue  string
		filter FilterPolicy
	}{
		{QueueFulfillment, FulfillmentFilter},
		{QueueAnalytics, AnalyticsFilter},
		{QueueShipping, ShippingFilter},
	}
	for _, s := range subs {
		if err := b.Subscribe(t.Topic, s.queue, s.filter); err != nil {
			return err
		}
	}
	return nil
}
