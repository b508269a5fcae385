package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

func TestEnvelope_Key(t *testing.T) {
	assert.Equal(t, "7", Envelope{ID: "evt", AggregateID: "7"}.Key())
	assert.Equal(t, "evt", Envelope{ID: "evt"}.Key())
}

func TestNewEnvelope_EmptyPayloadEncodesAsNull(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	envelope := NewEnvelope(domain.OutboxMessage{ID: "evt-1", EventType: domain.EventOrderCreated}, at)

	raw, err := json.Marshal(envelope)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "evt-1",
		"aggregate_type": "",
		"aggregate_id": "",
		"event_type": "order.created",
		"payload": null,
		"published_at": "2026-01-01T00:00:00Z"
	}`, string(raw))
}

func TestDLQRecord_Original(t *testing.T) {
	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	outer := Envelope{ID: "outer-id", AggregateType: "order", AggregateID: "9", EventType: "order.created"}

	tests := []struct {
		name    string
		record  DLQRecord
		want    Envelope
		wantErr error
	}{
		{
			name: "record fields win",
			record: DLQRecord{
				OutboxID: "evt-1", AggregateType: "order", AggregateID: "5",
				EventType: "order.created", Payload: json.RawMessage(`{"orderId":5}`),
			},
			want: Envelope{
				ID: "evt-1", AggregateType: "order", AggregateID: "5",
				EventType: "order.created", Payload: json.RawMessage(`{"orderId":5}`), PublishedAt: at,
			},
		},
		{
			name:   "blank fields fall back to outer envelope",
			record: DLQRecord{OutboxID: " ", Payload: json.RawMessage(`{}`)},
			want: Envelope{
				ID: "outer-id", AggregateType: "order", AggregateID: "9",
				EventType: "order.created", Payload: json.RawMessage(`{}`), PublishedAt: at,
			},
		},
		{
			name:    "null payload",
			record:  DLQRecord{OutboxID: "evt-2", Payload: json.RawMessage(`null`)},
			wantErr: ErrMissingOriginalPayload,
		},
		{
			name:    "absent payload",
			record:  DLQRecord{OutboxID: "evt-3"},
			wantErr: ErrMissingOriginalPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.record.Original(outer, at)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
