package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"testing"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDial подменяет подключение к Kafka на время теста.
func stubDial(t *testing.T, fn func(config, *log.Entry) (*kafkaConn, error)) {
	t.Helper()
	previous := dial
	dial = fn
	t.Cleanup(func() { dial = previous })
}

func TestExecute_ClosesConnections(t *testing.T) {
	offsets := &stubOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 1}}}
	source := &stubSource{streams: map[int32]*stubStream{0: finishedStream(dlqAt(t, 0, 0, "evt-1", "1", "order.created"))}}
	publisher := &recordingPublisher{}

	var got config
	stubDial(t, func(cfg config, _ *log.Entry) (*kafkaConn, error) {
		got = cfg
		return &kafkaConn{
			offsets:   offsets,
			source:    source,
			publisher: publisher,
			closers:   []io.Closer{offsets, source},
		}, nil
	})

	err := execute(context.Background(), []string{"-execute", "-idle-timeout=50ms"}, env(map[string]string{brokersEnv: "b:9092"}))
	require.NoError(t, err)

	assert.True(t, got.execute)
	assert.Len(t, publisher.sent, 1)
	assert.True(t, offsets.closed)
	assert.True(t, source.closed)
}

func TestExecute_Errors(t *testing.T) {
	stubDial(t, func(config, *log.Entry) (*kafkaConn, error) {
		return nil, errors.New("dial failed")
	})

	err := execute(context.Background(), []string{"-brokers=b:9092"}, env(nil))
	require.ErrorContains(t, err, "dial failed")

	err = execute(context.Background(), []string{"-limit=0"}, env(nil))
	require.ErrorContains(t, err, "limit must be > 0")
}

func TestExecute_ExecuteWithoutProducer(t *testing.T) {
	offsets := &stubOffsets{}
	stubDial(t, func(config, *log.Entry) (*kafkaConn, error) {
		return &kafkaConn{offsets: offsets, source: &stubSource{}, closers: []io.Closer{offsets}}, nil
	})

	err := execute(context.Background(), []string{"-brokers=b:9092", "-execute"}, env(nil))
	require.ErrorContains(t, err, "producer is required")
	assert.True(t, offsets.closed, "connections must be closed on replayer errors too")
}

func TestKafkaConn_CloseInReverseOrder(t *testing.T) {
	var order []string
	conn := &kafkaConn{closers: []io.Closer{
		closerFunc(func() error { order = append(order, "client"); return nil }),
		closerFunc(func() error { order = append(order, "consumer"); return errors.New("ignored") }),
		closerFunc(func() error { order = append(order, "producer"); return nil }),
	}}
	conn.Close()
	assert.Equal(t, []string{"producer", "consumer", "client"}, order)
}

func TestConsumerSource_PropagatesError(t *testing.T) {
	consumer := &failingConsumer{err: sarama.ErrUnknownTopicOrPartition}
	stream, err := consumerSource{consumer: consumer}.ConsumePartition(testSourceTopic, 0, 0)
	require.ErrorIs(t, err, sarama.ErrUnknownTopicOrPartition)
	assert.Nil(t, stream, "failed partition must not leak a typed nil stream")
}

func TestMain_ExitsOnError(t *testing.T) {
	if os.Getenv("DLQ_REPROCESS_SUBPROCESS") == "1" {
		os.Args = []string{"dlq-reprocess", "-limit=0"}
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMain_ExitsOnError")
	cmd.Env = append(os.Environ(), "DLQ_REPROCESS_SUBPROCESS=1", brokersEnv+"=")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// failingConsumer реализует sarama.Consumer только для ConsumePartition.
type failingConsumer struct {
	sarama.Consumer
	err error
}

func (c *failingConsumer) ConsumePartition(string, int32, int64) (sarama.PartitionConsumer, error) {
	return nil, c.err
}
