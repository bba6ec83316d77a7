package model

import "time"

// TransferEvent 发布到消息队列的转账事件
type TransferEvent struct {
	WorkflowID     string    `json:"workflow_id"`
	Operation      string    `json:"operation"`
	TxID           string    `json:"tx_id"`
	Sender         string    `json:"sender,omitempty"`
	Receiver       string    `json:"receiver,omitempty"`
	AssetID        uint64    `json:"asset_id,omitempty"`
	Amount         uint64    `json:"amount"`
	BundleSize     int       `json:"bundle_size"`
	ConfirmedRound uint64    `json:"confirmed_round,omitempty"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Event 由审计记录生成事件
func (t *Transfer) Event() TransferEvent {
	return TransferEvent{
		WorkflowID:     t.WorkflowID,
		Operation:      t.Operation,
		TxID:           t.TxID,
		Sender:         t.Sender,
		Receiver:       t.Receiver,
		AssetID:        t.AssetID,
		Amount:         t.Amount,
		BundleSize:     t.BundleSize,
		ConfirmedRound: t.ConfirmedRound,
		Status:         t.Status,
		Error:          t.Error,
		OccurredAt:     t.UpdatedAt,
	}
}
