package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofmint/intermezzo/internal/model"
	"github.com/proofmint/intermezzo/internal/orchestrator"
)

func TestFromRecord(t *testing.T) {
	row := FromRecord(orchestrator.Record{
		WorkflowID:     "wf-1",
		Operation:      orchestrator.OpAssetTransfer,
		TxID:           "TXID",
		Sender:         "SENDER",
		Receiver:       "RECEIVER",
		AssetID:        5,
		Amount:         10,
		BundleSize:     3,
		ConfirmedRound: 1001,
		Status:         orchestrator.StatusConfirmed,
	})

	assert.Equal(t, "TXID", row.TxID)
	assert.Equal(t, 3, row.BundleSize)
	assert.False(t, row.CreatedAt.IsZero())

	msg, err := model.NewOutboxMessage(DefaultEventTopic, row.Event())
	require.NoError(t, err)
	assert.Equal(t, "TXID", msg.Key)
	assert.Equal(t, model.OutboxPending, msg.Status)
	assert.NotContains(t, string(msg.Payload), `"error"`)

	ev, err := model.DecodeTransferEvent(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", ev.WorkflowID)
	assert.Equal(t, uint64(5), ev.AssetID)
	assert.Equal(t, orchestrator.StatusConfirmed, ev.Status)
}

func TestAllModelsMigratesTransfers(t *testing.T) {
	names := make([]string, 0)
	for _, m := range model.AllModels() {
		if tn, ok := m.(interface{ TableName() string }); ok {
			names = append(names, tn.TableName())
		}
	}
	assert.Equal(t, []string{"transfers", "outbox_messages"}, names)
}
