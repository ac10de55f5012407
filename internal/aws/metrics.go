package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsNamespace is the CloudWatch namespace all pipeline metrics are published under.
const MetricsNamespace = "OrderFlow"

// Metrics publishes counters to CloudWatch.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	if namespace == "" {
		namespace = MetricsNamespace
	}
	return &Metrics{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count publishes a single Count datum with a RestaurantId dimension.
func (m *Metrics) Count(ctx context.Context, name, restaurantID string, value float64) error {
	if m == nil || m.client == nil {
		return nil
	}
	now := m.nowFunc()
	input := &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Timestamp:  &now,
				Unit:       cwtypes.StandardUnitCount,
				Value:      &value,
				Dimensions: []cwtypes.Dimension{
					{Name: awsString("RestaurantId"), Value: awsString(restaurantID)},
				},
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
