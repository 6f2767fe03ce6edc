package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      subscriptionOp
		expectErr bool
	}{
		{
			name:  "subscribe job",
			input: `{"type":"subscribe:job","jobId":"job-1"}`,
			want:  subscriptionOp{key: JobKey("job-1"), subscribe: true},
		},
		{
			name:  "unsubscribe job",
			input: `{"type":"unsubscribe:job","jobId":"job-1"}`,
			want:  subscriptionOp{key: JobKey("job-1")},
		},
		{
			name:  "subscribe queue",
			input: `{"type":"subscribe:queue"}`,
			want:  subscriptionOp{key: QueueKey(), subscribe: true},
		},
		{
			name:  "unsubscribe queue",
			input: `{"type":"unsubscribe:queue"}`,
			want:  subscriptionOp{key: QueueKey()},
		},
		{
			name:  "subscribe memory",
			input: `{"type":"subscribe:memory"}`,
			want:  subscriptionOp{key: MemoryKey(), subscribe: true},
		},
		{
			name:      "invalid json",
			input:     `{not json`,
			expectErr: true,
		},
		{
			name:      "unknown type",
			input:     `{"type":"subscribe:everything"}`,
			expectErr: true,
		},
		{
			name:      "job subscribe without job id",
			input:     `{"type":"subscribe:job"}`,
			expectErr: true,
		},
		{
			name:      "queue subscribe with stray job id",
			input:     `{"type":"subscribe:queue","jobId":"job-1"}`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := parseClientMessage([]byte(tt.input))
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestAckType(t *testing.T) {
	assert.Equal(t, "subscribed:job", ackType(subscriptionOp{key: JobKey("x"), subscribe: true}))
	assert.Equal(t, "unsubscribed:job", ackType(subscriptionOp{key: JobKey("x")}))
	assert.Equal(t, "subscribed:queue", ackType(subscriptionOp{key: QueueKey(), subscribe: true}))
	assert.Equal(t, "unsubscribed:memory", ackType(subscriptionOp{key: MemoryKey()}))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "job:job-1", JobKey("job-1").String())
	assert.Equal(t, "queue", QueueKey().String())
	assert.Equal(t, "memory", MemoryKey().String())
}
