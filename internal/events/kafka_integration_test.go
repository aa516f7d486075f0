//go:build integration

package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"cis/internal/events"
	"cis/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaPublisherSuite) TestPublishKeyedByUser() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "cis.profile.changes.it"

	pub, err := events.NewKafkaPublisher(s.redpanda.Brokers, topic)
	s.Require().NoError(err)
	defer pub.Close()
	s.Require().NoError(pub.EnsureTopic(ctx, 3, 1))
	s.Require().NoError(pub.EnsureTopic(ctx, 3, 1), "ensure is idempotent")

	want := events.Change{
		UserID:            "ad|Mozilla-LDAP|jdoe",
		Condition:         "create",
		ChangedAttributes: []string{"first_name", "user_id"},
		Version:           1,
		AcceptedAt:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(pub.Publish(ctx, want))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var records []*kgo.Record
	for len(records) == 0 {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}

	s.Equal(want.UserID, string(records[0].Key))
	got, err := events.Decode(records[0].Value)
	s.Require().NoError(err)
	s.Equal(want, got)
}
