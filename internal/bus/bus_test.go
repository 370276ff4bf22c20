package bus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PablitoCBR/commenter/internal/comment"
)

func TestNewRecordMapping(t *testing.T) {
	c := comment.Comment{ID: "x", GroupID: "room-1", Text: "hi", State: comment.StateUpdated}

	rec := NewRecord("comments", c)
	assert.Equal(t, "comments", rec.Topic)
	assert.Equal(t, []byte("room-1"), rec.Key)

	decoded, err := comment.Unmarshal(rec.Value)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestNewProducerValidation(t *testing.T) {
	_, err := NewProducer(ProducerConfig{Topic: "comments", Logger: zerolog.Nop()})
	require.Error(t, err)

	_, err = NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestNewConsumerValidation(t *testing.T) {
	base := ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "comments",
		Group:   "commenter-edge",
		Logger:  zerolog.Nop(),
	}

	missingBrokers := base
	missingBrokers.Brokers = nil
	_, err := NewConsumer(missingBrokers)
	require.Error(t, err)

	missingTopic := base
	missingTopic.Topic = ""
	_, err = NewConsumer(missingTopic)
	require.Error(t, err)

	missingGroup := base
	missingGroup.Group = ""
	_, err = NewConsumer(missingGroup)
	require.Error(t, err)
}
