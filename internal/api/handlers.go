package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/launchpad"
	"github.com/leafsii/launchpad/internal/ledger"
	"github.com/leafsii/launchpad/internal/registry"
	"github.com/leafsii/launchpad/internal/util"
)

const maxBodyBytes = 1 << 20

// Signer is the server wallet every operation is signed with.
type Signer interface {
	ledger.Signer
	Connected() bool
}

// Pinger reports whether a dependency can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	issuance  *launchpad.IssuanceService
	authority *launchpad.AuthorityService
	pools     *launchpad.PoolService
	signer    Signer
	ready     Pinger
	locks     *util.KeyedMutex
	logger    *zap.SugaredLogger
}

func NewHandler(
	issuance *launchpad.IssuanceService,
	authority *launchpad.AuthorityService,
	pools *launchpad.PoolService,
	signer Signer,
	ready Pinger,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		issuance:  issuance,
		authority: authority,
		pools:     pools,
		signer:    signer,
		ready:     ready,
		locks:     &util.KeyedMutex{},
		logger:    logger,
	}
}

func assetLock(address string) string { return "asset:" + address }
func poolLock(id string) string       { return "pool:" + id }

// locked runs fn while holding the lock for key. A request that gives up
// waiting never reaches the ledger.
func (h *Handler) locked(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	unlock, err := h.locks.Lock(ctx, key)
	if err != nil {
		return domain.E(domain.KindLedgerUnavailable, "lock", err)
	}
	defer unlock()
	return fn(ctx)
}

// Assets

func (h *Handler) IssueAsset(w http.ResponseWriter, r *http.Request) {
	var req IssueAssetRequest
	if !h.decode(w, r, &req) {
		return
	}

	asset, err := h.issuance.Issue(r.Context(), h.signer, launchpad.IssueRequest{
		Name:                req.Name,
		Symbol:              req.Symbol,
		Decimals:            req.Decimals,
		Supply:              req.Supply,
		WantFreezeAuthority: req.WantFreezeAuthority,
		WantMintAuthority:   req.WantMintAuthority,
		Metadata:            req.Metadata,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, asset)
}

func (h *Handler) ResumeIssue(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	var req ResumeIssueRequest
	if !h.decode(w, r, &req) {
		return
	}

	var asset *domain.Asset
	err := h.locked(r.Context(), assetLock(address), func(ctx context.Context) (err error) {
		asset, err = h.issuance.ResumeIssue(ctx, h.signer, address, launchpad.ResumeRequest{
			Supply:            req.Supply,
			WantMintAuthority: req.WantMintAuthority,
		})
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.issuance.Asset(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	creator := r.URL.Query().Get("creator")
	if creator == "" {
		h.writeError(w, r, domain.Invalid("list_assets", "creator query parameter is required"))
		return
	}
	assets, err := h.issuance.AssetsByCreator(r.Context(), creator)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AssetListResponse{Assets: assets})
}

func (h *Handler) RevokeAuthority(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	var req RevokeAuthorityRequest
	if !h.decode(w, r, &req) {
		return
	}

	var asset *domain.Asset
	err := h.locked(r.Context(), assetLock(address), func(ctx context.Context) (err error) {
		asset, err = h.authority.Revoke(ctx, h.signer, address, domain.AuthorityKind(req.Authority))
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	var req domain.Metadata
	if !h.decode(w, r, &req) {
		return
	}

	var asset *domain.Asset
	err := h.locked(r.Context(), assetLock(address), func(ctx context.Context) (err error) {
		asset, err = h.authority.UpdateMetadata(ctx, h.signer, address, req)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

func (h *Handler) RefreshAsset(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	var asset *domain.Asset
	err := h.locked(r.Context(), assetLock(address), func(ctx context.Context) (err error) {
		asset, err = h.issuance.RefreshAsset(ctx, address)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

func (h *Handler) ListAssetPools(w http.ResponseWriter, r *http.Request) {
	order, err := registry.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		h.writeError(w, r, domain.E(domain.KindInvalidParameters, "list_pools", err))
		return
	}
	pools, err := h.pools.PoolsForAsset(r.Context(), chi.URLParam(r, "address"), order)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PoolListResponse{Pools: toPoolDTOs(pools)})
}

// Pools

func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if !h.decode(w, r, &req) {
		return
	}

	pool, err := h.pools.CreatePool(r.Context(), h.signer, launchpad.CreatePoolRequest{
		BaseAsset:   req.BaseAsset,
		QuoteAsset:  req.QuoteAsset,
		BaseAmount:  req.BaseAmount,
		QuoteAmount: req.QuoteAmount,
		StartTime:   req.StartTime,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toPoolDTO(pool))
}

func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.pools.Pool(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPoolDTO(pool))
}

func (h *Handler) ChangeLiquidity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ChangeLiquidityRequest
	if !h.decode(w, r, &req) {
		return
	}

	var result *launchpad.ChangeResult
	err := h.locked(r.Context(), poolLock(id), func(ctx context.Context) (err error) {
		result, err = h.pools.ChangeLiquidity(ctx, h.signer, id, req.Base, req.Quote, domain.Direction(req.Direction))
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ChangeLiquidityResponse{
		ConfirmationID: result.ConfirmationID,
		Pool:           toPoolDTO(result.Pool),
	})
}

func (h *Handler) RefreshPool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var pool *domain.LiquidityPool
	err := h.locked(r.Context(), poolLock(id), func(ctx context.Context) (err error) {
		pool, err = h.pools.RefreshPool(ctx, id)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPoolDTO(pool))
}

func (h *Handler) GetSigner(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, SignerResponse{
		Address:   h.signer.Address(),
		Connected: h.signer.Connected(),
	})
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.ready.Ping(r.Context()); err != nil {
		h.logger.Warnw("Readiness check failed", "error", err)
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	if !h.signer.Connected() {
		http.Error(w, "signer not connected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// Utility methods

// decode reads a JSON body into v and writes a 400 response if it cannot.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, domain.E(domain.KindInvalidParameters, "decode", fmt.Errorf("invalid request body: %w", err)))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)

	fields := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"code", body.Code,
		"error", err,
	}
	if body.Address != "" {
		fields = append(fields, "address", body.Address, "step", body.Step)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", fields...)
	} else {
		h.logger.Infow("API error", fields...)
	}

	h.writeJSON(w, status, body)
}
