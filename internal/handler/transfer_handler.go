package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/handler/request"
	"github.com/proofmint/intermezzo/internal/handler/response"
	"github.com/proofmint/intermezzo/internal/model"
	"github.com/proofmint/intermezzo/internal/orchestrator"
	"github.com/proofmint/intermezzo/internal/store"
	"github.com/proofmint/intermezzo/internal/submission"
	"github.com/proofmint/intermezzo/internal/txn"
	"github.com/proofmint/intermezzo/pkg/errno"
	"github.com/proofmint/intermezzo/pkg/validator"
)

// IdempotencyHeader 客户端传入的幂等键
const IdempotencyHeader = "Idempotency-Key"

// Transfers 编排器提供的流程
type Transfers interface {
	TransferValue(ctx context.Context, req orchestrator.ValueTransfer) (orchestrator.Receipt, error)
	TransferAsset(ctx context.Context, req orchestrator.AssetTransfer) (orchestrator.Receipt, error)
	ClawbackAsset(ctx context.Context, req orchestrator.Clawback) (orchestrator.Receipt, error)
	CreateAsset(ctx context.Context, req orchestrator.AssetCreate) (orchestrator.Receipt, error)
	SubmitGroup(ctx context.Context, req orchestrator.Group) (orchestrator.Receipt, error)
}

// StatusQuerier 单次查询账本上的交易状态
type StatusQuerier interface {
	Status(ctx context.Context, txID string) (submission.Result, error)
}

// TransferFinder 审计记录查询，未启用数据库时为 nil
type TransferFinder interface {
	Find(ctx context.Context, txID string) (*model.Transfer, error)
	UpdateStatus(ctx context.Context, row *model.Transfer, status string, confirmedRound uint64) error
}

type TransferHandler struct {
	transfers Transfers
	status    StatusQuerier
	finder    TransferFinder
	log       *zap.Logger
}

func NewTransferHandler(transfers Transfers, status StatusQuerier, finder TransferFinder, log *zap.Logger) *TransferHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransferHandler{transfers: transfers, status: status, finder: finder, log: log.Named("handler")}
}

// RegisterRoutes 挂载到 /api/v1
func (h *TransferHandler) RegisterRoutes(rg *gin.RouterGroup) {
	transfers := rg.Group("/transfers")
	{
		transfers.POST("/value", h.TransferValue)
		transfers.POST("/asset", h.TransferAsset)
		transfers.POST("/clawback", h.Clawback)
		transfers.POST("/group", h.SubmitGroup)
		transfers.GET("/:txid", h.GetTransfer)
	}
	rg.POST("/assets", h.CreateAsset)
}

// TransferValue 原生币转账
// @Summary 原生币转账
// @Tags Transfer
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "幂等键"
// @Param request body request.ValueTransferRequest true "Transfer Request"
// @Success 200 {object} response.Response
// @Router /api/v1/transfers/value [post]
func (h *TransferHandler) TransferValue(c *gin.Context) {
	var req request.ValueTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	from, err := identityOf(req.From, "from")
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := addressOf(req.To, "to")
	if err != nil {
		h.fail(c, err)
		return
	}
	amount, err := baseUnits(req.Amount, "amount")
	if err != nil {
		h.fail(c, err)
		return
	}

	receipt, err := h.transfers.TransferValue(c.Request.Context(), orchestrator.ValueTransfer{
		From:           from,
		To:             to,
		Amount:         amount,
		Lease:          req.Lease,
		Note:           noteOf(req.Note),
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	h.reply(c, receipt, err)
}

// TransferAsset 管理员向用户转资产，必要时自动补足资金并 opt-in
// @Summary 资产转账
// @Tags Transfer
// @Accept json
// @Produce json
// @Param request body request.AssetTransferRequest true "Asset Transfer Request"
// @Success 200 {object} response.Response
// @Router /api/v1/transfers/asset [post]
func (h *TransferHandler) TransferAsset(c *gin.Context) {
	var req request.AssetTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	from := txn.Identity{Role: txn.RoleManager}
	if req.From != nil {
		var err error
		if from, err = identityOf(*req.From, "from"); err != nil {
			h.fail(c, err)
			return
		}
	}
	to, err := identityOf(req.To, "to")
	if err != nil {
		h.fail(c, err)
		return
	}
	amount, err := baseUnits(req.Amount, "amount")
	if err != nil {
		h.fail(c, err)
		return
	}

	receipt, err := h.transfers.TransferAsset(c.Request.Context(), orchestrator.AssetTransfer{
		AssetID:        req.AssetID,
		From:           from,
		To:             to,
		Amount:         amount,
		Lease:          req.Lease,
		Note:           noteOf(req.Note),
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	h.reply(c, receipt, err)
}

// Clawback 管理员收回用户资产
// @Summary 收回资产
// @Tags Transfer
// @Accept json
// @Produce json
// @Param request body request.ClawbackRequest true "Clawback Request"
// @Success 200 {object} response.Response
// @Router /api/v1/transfers/clawback [post]
func (h *TransferHandler) Clawback(c *gin.Context) {
	var req request.ClawbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	from, err := identityOf(req.From, "from")
	if err != nil {
		h.fail(c, err)
		return
	}
	var manager txn.Identity
	if req.Manager != nil {
		if manager, err = identityOf(*req.Manager, "manager"); err != nil {
			h.fail(c, err)
			return
		}
	}
	amount, err := baseUnits(req.Amount, "amount")
	if err != nil {
		h.fail(c, err)
		return
	}

	receipt, err := h.transfers.ClawbackAsset(c.Request.Context(), orchestrator.Clawback{
		AssetID:        req.AssetID,
		From:           from,
		Manager:        manager,
		Amount:         amount,
		Lease:          req.Lease,
		Note:           noteOf(req.Note),
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	h.reply(c, receipt, err)
}

// CreateAsset 发行资产
// @Summary 发行资产
// @Tags Asset
// @Accept json
// @Produce json
// @Param request body request.AssetCreateRequest true "Asset Create Request"
// @Success 200 {object} response.Response
// @Router /api/v1/assets [post]
func (h *TransferHandler) CreateAsset(c *gin.Context) {
	var req request.AssetCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	var creator txn.Identity
	if req.Creator != nil {
		var err error
		if creator, err = identityOf(*req.Creator, "creator"); err != nil {
			h.fail(c, err)
			return
		}
	}
	params, err := assetParamsOf(req.AssetParams, "")
	if err != nil {
		h.fail(c, err)
		return
	}

	receipt, err := h.transfers.CreateAsset(c.Request.Context(), orchestrator.AssetCreate{
		Creator:        creator,
		Params:         params,
		Lease:          req.Lease,
		Note:           noteOf(req.Note),
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	h.reply(c, receipt, err)
}

// SubmitGroup 原子提交混合交易组
// @Summary 提交交易组
// @Tags Transfer
// @Accept json
// @Produce json
// @Param request body request.GroupRequest true "Group Request"
// @Success 200 {object} response.Response
// @Router /api/v1/transfers/group [post]
func (h *TransferHandler) SubmitGroup(c *gin.Context) {
	var req request.GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	group := orchestrator.Group{
		Members:        make([]orchestrator.MemberSpec, 0, len(req.Members)),
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	}
	for i, m := range req.Members {
		spec, err := memberOf(m)
		if err != nil {
			h.fail(c, prefixField(i, err))
			return
		}
		group.Members = append(group.Members, spec)
	}

	receipt, err := h.transfers.SubmitGroup(c.Request.Context(), group)
	h.reply(c, receipt, err)
}

// GetTransfer 查询交易状态。
// 有审计记录时返回记录，并在结果未知时到账本上补查一次
// @Summary 查询交易
// @Tags Transfer
// @Produce json
// @Param txid path string true "Transaction ID"
// @Success 200 {object} response.Response
// @Router /api/v1/transfers/{txid} [get]
func (h *TransferHandler) GetTransfer(c *gin.Context) {
	ctx := c.Request.Context()
	txID := c.Param("txid")

	var row *model.Transfer
	if h.finder != nil {
		found, err := h.finder.Find(ctx, txID)
		switch {
		case err == nil:
			row = found
		case errors.Is(err, store.ErrNotFound):
		default:
			h.log.Error("查询审计记录失败", zap.String("tx_id", txID), zap.Error(err))
			response.Error(c, errno.ErrDatabase)
			return
		}
	}

	if row != nil && !unsettled(row.Status) {
		response.Success(c, row)
		return
	}

	res, err := h.status.Status(ctx, txID)
	if err != nil {
		var lerr *apperr.LedgerUnavailableError
		if errors.As(err, &lerr) && lerr.Status == http.StatusNotFound {
			if row != nil {
				response.Success(c, row)
				return
			}
			response.Error(c, errno.ErrNotFound)
			return
		}
		h.fail(c, err)
		return
	}

	if row == nil {
		response.Success(c, gin.H{
			"tx_id":           res.TxID,
			"status":          ledgerStatus(res),
			"confirmed_round": res.ConfirmedRound,
			"asset_id":        res.AssetID,
			"reason":          res.Reason,
		})
		return
	}

	if status := ledgerStatus(res); status != row.Status && !unsettled(status) {
		if err := h.finder.UpdateStatus(ctx, row, status, res.ConfirmedRound); err != nil {
			h.log.Error("补记交易状态失败", zap.String("tx_id", txID), zap.Error(err))
		} else {
			h.log.Info("补记交易状态", zap.String("tx_id", txID), zap.String("status", status))
		}
	}
	response.Success(c, row)
}

func (h *TransferHandler) reply(c *gin.Context, receipt orchestrator.Receipt, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"workflow_id":         receipt.WorkflowID,
		"tx_id":               receipt.TxID,
		"confirmed_round":     receipt.ConfirmedRound,
		"asset_id":            receipt.AssetID,
		"bundle_size":         receipt.BundleSize,
		"signed_transactions": receipt.SignedTransactions,
	})
}

func (h *TransferHandler) fail(c *gin.Context, err error) {
	data := gin.H{
		"outcome_unknown": apperr.OutcomeUnknown(err),
		"safe_to_retry":   apperr.SafeToRetry(err),
	}
	if txID := txIDOf(err); txID != "" {
		data["tx_id"] = txID
	}
	response.ErrorWithData(c, errnoOf(err), data)
}

// errnoOf 把编排错误映射为错误码。
// 超时和拒绝先于"结果未知"判断，它们也可能被 SubmittedError 包着
func errnoOf(err error) errno.Errno {
	var (
		invalid   *apperr.InvalidFieldError
		mismatch  *apperr.AddressMismatchError
		authority *apperr.SigningAuthorityMismatchError
		sigErr    *apperr.SignatureMismatchError
		dup       *apperr.DuplicateRequestError
		custody   *apperr.CustodyUnavailableError
		ledgerErr *apperr.LedgerUnavailableError
		timedOut  *apperr.TimedOutError
		rejected  *apperr.RejectedError
	)
	switch {
	case errors.As(err, &timedOut):
		return errno.ErrTimedOut.WithMessage(err.Error())
	case errors.As(err, &rejected):
		return errno.ErrRejected.WithMessage(err.Error())
	case apperr.OutcomeUnknown(err):
		return errno.ErrOutcomeUnknown.WithMessage(err.Error())
	case errors.As(err, &invalid):
		return errno.ErrInvalidField.WithMessage(err.Error())
	case errors.Is(err, apperr.ErrEmptyGroup):
		return errno.ErrEmptyGroup
	case errors.As(err, &mismatch):
		return errno.ErrAddressMismatch.WithMessage(err.Error())
	case errors.As(err, &authority):
		return errno.ErrSigningAuthorityMismatch.WithMessage(err.Error())
	case errors.As(err, &sigErr):
		return errno.ErrSignatureMismatch.WithMessage(err.Error())
	case errors.As(err, &dup):
		return errno.ErrDuplicateRequest.WithMessage(err.Error())
	case errors.As(err, &custody):
		return errno.ErrCustodyUnavailable.WithMessage(err.Error())
	case errors.As(err, &ledgerErr):
		return errno.ErrLedgerUnavailable.WithMessage(err.Error())
	default:
		return errno.InternalServerError.WithMessage(err.Error())
	}
}

func txIDOf(err error) string {
	var (
		submitted *apperr.SubmittedError
		timedOut  *apperr.TimedOutError
		rejected  *apperr.RejectedError
	)
	switch {
	case errors.As(err, &timedOut):
		return timedOut.TxID
	case errors.As(err, &rejected):
		return rejected.TxID
	case errors.As(err, &submitted):
		return submitted.TxID
	}
	return ""
}

func ledgerStatus(res submission.Result) string {
	switch {
	case res.Confirmed():
		return orchestrator.StatusConfirmed
	case res.Rejected:
		return orchestrator.StatusRejected
	default:
		return orchestrator.StatusUnknown
	}
}

func unsettled(status string) bool {
	return status == orchestrator.StatusUnknown || status == orchestrator.StatusTimedOut
}

// ---- 请求转换 ----

func identityOf(p request.Party, field string) (txn.Identity, error) {
	id := txn.Identity{ID: p.ID, Role: txn.Role(p.Role)}
	if p.Address != "" {
		addr, err := addressOf(p.Address, field+".address")
		if err != nil {
			return txn.Identity{}, err
		}
		id.Address = addr
	}
	return id, nil
}

func addressOf(s, field string) (types.Address, error) {
	if s == "" {
		return types.Address{}, nil
	}
	addr, err := types.DecodeAddress(s)
	if err != nil {
		return types.Address{}, apperr.InvalidField(field, "%v", err)
	}
	return addr, nil
}

var maxBaseUnits = decimal.NewFromUint64(math.MaxUint64)

// baseUnits 金额是账本基本单位的非负整数，上限 2^64-1。
// 负数只可能出现在这里 (JSON/decimal 带符号)，进入编排层后都是 uint64
func baseUnits(d decimal.Decimal, field string) (uint64, error) {
	if !d.IsInteger() {
		return 0, apperr.InvalidField(field, "must be an integer number of base units, got %s", d.String())
	}
	if d.IsNegative() {
		return 0, apperr.InvalidField(field, "must not be negative, got %s", d.String())
	}
	if d.GreaterThan(maxBaseUnits) {
		return 0, apperr.InvalidField(field, "%s out of range", d.String())
	}
	return d.BigInt().Uint64(), nil
}

func noteOf(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func assetParamsOf(p request.AssetParams, prefix string) (orchestrator.AssetParams, error) {
	out := orchestrator.AssetParams{
		Decimals:      p.Decimals,
		DefaultFrozen: p.DefaultFrozen,
		UnitName:      p.UnitName,
		AssetName:     p.AssetName,
		URL:           p.URL,
		MetadataHash:  p.MetadataHash,
	}
	if p.Total != nil {
		total, err := baseUnits(*p.Total, prefix+"total")
		if err != nil {
			return orchestrator.AssetParams{}, err
		}
		out.Total = &total
	}

	roles := []struct {
		field string
		value string
		dst   *types.Address
	}{
		{"manager", p.Manager, &out.Manager},
		{"reserve", p.Reserve, &out.Reserve},
		{"freeze", p.Freeze, &out.Freeze},
		{"clawback", p.Clawback, &out.Clawback},
	}
	for _, r := range roles {
		addr, err := addressOf(r.value, prefix+r.field)
		if err != nil {
			return orchestrator.AssetParams{}, err
		}
		*r.dst = addr
	}
	return out, nil
}

func memberOf(m request.GroupMember) (orchestrator.MemberSpec, error) {
	sender, err := identityOf(m.Sender, "sender")
	if err != nil {
		return orchestrator.MemberSpec{}, err
	}
	receiver, err := addressOf(m.Receiver, "receiver")
	if err != nil {
		return orchestrator.MemberSpec{}, err
	}
	assetSender, err := addressOf(m.AssetSender, "asset_sender")
	if err != nil {
		return orchestrator.MemberSpec{}, err
	}
	amount, err := baseUnits(m.Amount, "amount")
	if err != nil {
		return orchestrator.MemberSpec{}, err
	}

	spec := orchestrator.MemberSpec{
		Kind:        txn.Kind(m.Kind),
		Sender:      sender,
		Receiver:    receiver,
		AssetID:     m.AssetID,
		Amount:      amount,
		AssetSender: assetSender,
		Lease:       m.Lease,
		Note:        noteOf(m.Note),
	}
	if m.Create != nil {
		params, err := assetParamsOf(*m.Create, "create.")
		if err != nil {
			return orchestrator.MemberSpec{}, err
		}
		spec.Create = &params
	}
	return spec, nil
}

func prefixField(i int, err error) error {
	var invalid *apperr.InvalidFieldError
	if errors.As(err, &invalid) {
		return apperr.InvalidField(fmt.Sprintf("members[%d].%s", i, invalid.Field), "%s", invalid.Reason)
	}
	return err
}
