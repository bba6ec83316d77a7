package ledger

// algod REST v2 响应结构 (只保留用到的字段)

type paramsResponse struct {
	ConsensusVersion string `json:"consensus-version"`
	Fee              uint64 `json:"fee"`
	GenesisHash      []byte `json:"genesis-hash"`
	GenesisID        string `json:"genesis-id"`
	LastRound        uint64 `json:"last-round"`
	MinFee           uint64 `json:"min-fee"`
}

type assetHolding struct {
	AssetID  uint64 `json:"asset-id"`
	Amount   uint64 `json:"amount"`
	IsFrozen bool   `json:"is-frozen"`
}

type accountResponse struct {
	Address    string         `json:"address"`
	Amount     uint64         `json:"amount"`
	MinBalance uint64         `json:"min-balance"`
	Assets     []assetHolding `json:"assets"`
}

type accountAssetResponse struct {
	Round        uint64        `json:"round"`
	AssetHolding *assetHolding `json:"asset-holding"`
}

type submitResponse struct {
	TxID string `json:"txId"`
}

type pendingResponse struct {
	ConfirmedRound uint64 `json:"confirmed-round"`
	PoolError      string `json:"pool-error"`
	AssetIndex     uint64 `json:"asset-index"`
}

type statusResponse struct {
	LastRound uint64 `json:"last-round"`
}

type errorResponse struct {
	Message string `json:"message"`
}
