package awsmock

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records every SendMessage input.
type SQS struct {
	mu   sync.Mutex
	Sent []*sqs.SendMessageInput
	// FailFor returns an error for a message when it yields non-nil.
	FailFor func(in *sqs.SendMessageInput) error
}

func (m *SQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor != nil {
		if err := m.FailFor(params); err != nil {
			return nil, err
		}
	}
	m.Sent = append(m.Sent, params)
	id := "msg-" + string(rune('a'+len(m.Sent)%26))
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

// Messages returns a snapshot of the sent messages.
func (m *SQS) Messages() []*sqs.SendMessageInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*sqs.SendMessageInput, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// CloudWatch records every PutMetricData input.
type CloudWatch struct {
	mu   sync.Mutex
	Data []*cloudwatch.PutMetricDataInput
}

func (m *CloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data = append(m.Data, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Total sums all values recorded for a metric name.
func (m *CloudWatch) Total(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, in := range m.Data {
		for _, d := range in.MetricData {
			if d.MetricName != nil && *d.MetricName == name && d.Value != nil {
				sum += *d.Value
			}
		}
	}
	return sum
}
