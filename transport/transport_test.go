package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConfig struct {
	system string
}

func (s stubConfig) GetPubSubSystem() string       { return s.system }
func (stubConfig) GetKafkaBrokers() []string        { return nil }
func (stubConfig) GetKafkaConsumerGroup() string    { return "" }
func (stubConfig) GetRabbitMQURL() string           { return "" }
func (stubConfig) GetNATSURL() string               { return "" }
func (stubConfig) GetHTTPServerAddress() string     { return "" }
func (stubConfig) GetHTTPPublisherURL() string      { return "" }
func (stubConfig) GetAWSRegion() string             { return "" }
func (stubConfig) GetAWSAccountID() string          { return "" }
func (stubConfig) GetAWSAccessKeyID() string        { return "" }
func (stubConfig) GetAWSSecretAccessKey() string    { return "" }
func (stubConfig) GetAWSEndpoint() string           { return "" }

type closer struct {
	closed int
	err    error
}

func (c *closer) Publish(string, ...*message.Message) error { return nil }

func (c *closer) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestTransportCloseSeparateValues(t *testing.T) {
	pub := &closer{}
	sub := &closer{err: errors.New("sub stuck")}

	err := Transport{Publisher: pub, Subscriber: sub}.Close()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "close subscriber: sub stuck")
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

func TestTransportCloseSharedValueOnce(t *testing.T) {
	both := &closer{}

	require.NoError(t, Transport{Publisher: both, Subscriber: both}.Close())
	assert.Equal(t, 1, both.closed)
}

func TestTransportCloseGoChannel(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, nil)

	require.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
}

func TestTransportCloseEmpty(t *testing.T) {
	assert.NoError(t, Transport{}.Close())
}

func TestMissingSetting(t *testing.T) {
	err := MissingSetting("kafka", "brokers")

	var missing *MissingSettingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "kafka", missing.Transport)
	assert.Equal(t, "transport kafka: brokers is required", err.Error())
}

func TestSafeForRetries(t *testing.T) {
	assert.True(t, KafkaCapabilities.SafeForRetries())
	assert.True(t, RabbitMQCapabilities.SafeForRetries())
	assert.False(t, ChannelCapabilities.SafeForRetries())
	assert.False(t, HTTPCapabilities.SafeForRetries())
}
