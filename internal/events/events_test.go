package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var got []string
	bus.Subscribe(func(ev Event) { got = append(got, "a:"+string(ev.Type)) })
	unsub := bus.Subscribe(func(ev Event) { got = append(got, "b:"+string(ev.Type)) })
	bus.Subscribe(func(ev Event) { got = append(got, "c:"+string(ev.Type)) })

	bus.Publish(Event{Type: QualityWarning})
	unsub()
	unsub()
	bus.Publish(Event{Type: DriftHigh})

	assert.Equal(t, []string{
		"a:quality_warning", "b:quality_warning", "c:quality_warning",
		"a:drift_high", "c:drift_high",
	}, got)
}

func TestBus_PanickingHandlerIsolated(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	delivered := false
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Publish(Event{Type: DriftCritical}) })
	assert.True(t, delivered)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Publish(Event{Type: ClassImbalance})
	r.Publish(Event{Type: RetrainingRecommended})
	assert.Equal(t, []Type{ClassImbalance, RetrainingRecommended}, r.Types())
	assert.Len(t, r.Events(), 2)
}

func TestKafkaSink_SendsJSONKeyedByType(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "harvester.events", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "drift_high", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var ev map[string]any
		require.NoError(t, json.Unmarshal(value, &ev))
		assert.Equal(t, "drift_high", ev["type"])
		return nil
	})
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	sink := NewKafkaSink(producer, "harvester.events", zaptest.NewLogger(t))
	require.NoError(t, sink.Send(Event{Type: DriftHigh, Time: time.Unix(0, 0).UTC(), Data: map[string]int{"drifted": 3}}))

	err := sink.Send(Event{Type: DriftCritical})
	assert.Error(t, err)
}

func TestKafkaSink_HandleSwallowsErrors(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	sink := NewKafkaSink(producer, "t", zaptest.NewLogger(t))
	assert.NotPanics(t, func() { sink.Handle(Event{Type: QualityCritical}) })
}

func TestKafkaConfig_Enabled(t *testing.T) {
	assert.False(t, KafkaConfig{}.Enabled())
	assert.True(t, KafkaConfig{Brokers: []string{"localhost:9092"}}.Enabled())
}
