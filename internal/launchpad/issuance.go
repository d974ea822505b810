package launchpad

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger"
)

// IssueRequest describes a new asset. Supply is in whole tokens and is scaled
// by 10^Decimals before minting.
type IssueRequest struct {
	Name                string
	Symbol              string
	Decimals            uint8
	Supply              decimal.Decimal
	WantFreezeAuthority bool
	WantMintAuthority   bool
	Metadata            *domain.Metadata
}

// ResumeRequest finishes the mint step of an asset whose issuance stopped
// after allocation.
type ResumeRequest struct {
	Supply            decimal.Decimal
	WantMintAuthority bool
}

// IssuanceService creates assets and mints their initial supply.
type IssuanceService struct {
	ledger   ledger.Client
	registry Registry
	opts     options
}

func NewIssuanceService(client ledger.Client, reg Registry, opts ...Option) *IssuanceService {
	return &IssuanceService{
		ledger:   client,
		registry: reg,
		opts:     newOptions(opts),
	}
}

func validateIssue(req IssueRequest) (string, error) {
	const op = "issue"
	if req.Decimals > domain.MaxDecimals {
		return "", domain.Invalid(op, "decimals %d out of range [0,%d]", req.Decimals, domain.MaxDecimals)
	}
	symbol, err := domain.NormalizeSymbol(req.Symbol)
	if err != nil {
		return "", domain.E(domain.KindInvalidParameters, op, err)
	}
	if !domain.IsPositiveInteger(req.Supply) {
		return "", domain.Invalid(op, "supply %s must be a positive integer", req.Supply)
	}
	if scaled := domain.ScaleSupply(req.Supply, req.Decimals); !domain.FitsBaseUnits(scaled) {
		return "", domain.Invalid(op, "supply %s with %d decimals is %s base units (max %s)", req.Supply, req.Decimals, scaled, domain.MaxBaseUnits)
	}
	return symbol, nil
}

// Issue allocates a new asset with the signer as creator, then mints the full
// supply into the creator's holding.
//
// Allocation and minting are separate transactions. If allocation succeeded
// and minting did not, the error is PartiallyIssued and carries the asset
// address so the caller can finish with ResumeIssue instead of allocating
// again.
func (s *IssuanceService) Issue(ctx context.Context, signer ledger.Signer, req IssueRequest) (asset *domain.Asset, err error) {
	const op = "issue"
	done := s.opts.begin(ctx, op)
	defer func() { done(err) }()

	symbol, err := validateIssue(req)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = symbol
	}
	creator := signer.Address()

	var uri string
	if req.Metadata != nil {
		meta := *req.Metadata
		meta.Name = name
		meta.Symbol = symbol
		meta.Decimals = req.Decimals
		meta.Supply = req.Supply.String()
		if uri, err = s.opts.upload(ctx, op, meta); err != nil {
			return nil, err
		}
	}

	receipt, err := s.opts.execute(ctx, s.ledger, signer, op, StepAllocate, ledger.CreateAsset{
		Name:        name,
		Symbol:      symbol,
		Decimals:    req.Decimals,
		Authority:   creator,
		Freeze:      req.WantFreezeAuthority,
		MetadataURI: uri,
	})
	if err != nil {
		return nil, err
	}
	address := receipt.Created[ledger.ObjectAsset]
	if address == "" {
		return nil, &domain.Error{
			Kind:  domain.KindUnknown,
			Op:    op,
			Step:  StepAllocate,
			Cause: fmt.Errorf("confirmation %s carried no asset address", receipt.ConfirmationID),
		}
	}
	s.opts.logger.Infow("Asset allocated",
		"address", address,
		"symbol", symbol,
		"creator", creator,
		"confirmation", receipt.ConfirmationID,
	)

	amount := domain.ScaleSupply(req.Supply, req.Decimals)
	if err := s.mintSupply(ctx, signer, op, address, amount, req.WantMintAuthority); err != nil {
		return nil, partial(domain.KindPartiallyIssued, op, address, err)
	}

	return s.opts.recordAsset(ctx, s.ledger, s.registry, op, address)
}

// mintSupply opens the creator's holding if needed and mints amount base units
// into it. When keepMint is false the mint authority is dropped in the same transaction.
func (s *IssuanceService) mintSupply(ctx context.Context, signer ledger.Signer, op, address string, amount decimal.Decimal, keepMint bool) error {
	owner := signer.Address()

	var instructions []ledger.Instruction
	_, err := s.ledger.FindHolding(ctx, address, owner)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		instructions = append(instructions, ledger.CreateHolding{Asset: address, Owner: owner})
	case err != nil:
		return &domain.Error{Kind: domain.KindLedgerUnavailable, Op: op, Step: StepMintSupply, Cause: fmt.Errorf("find holding: %w", err)}
	}

	instructions = append(instructions, ledger.MintTo{Asset: address, Owner: owner, Amount: amount})
	if !keepMint {
		instructions = append(instructions, ledger.RevokeAuthority{Asset: address, Kind: domain.AuthorityMint})
	}

	_, err = s.opts.execute(ctx, s.ledger, signer, op, StepMintSupply, instructions...)
	return err
}

// ResumeIssue finishes an issuance that stopped with PartiallyIssued. It never
// allocates. If the supply already landed it only drops the mint authority
// when asked to, and records the asset.
func (s *IssuanceService) ResumeIssue(ctx context.Context, signer ledger.Signer, address string, req ResumeRequest) (asset *domain.Asset, err error) {
	const op = "resume_issue"
	done := s.opts.begin(ctx, op)
	defer func() { done(err) }()

	if !domain.IsPositiveInteger(req.Supply) {
		return nil, domain.Invalid(op, "supply %s must be a positive integer", req.Supply)
	}

	st, err := s.ledger.AccountState(ctx, address)
	if err != nil {
		return nil, readError(op, err, domain.KindAssetNotFound)
	}
	current, err := ledger.AssetFromState(st)
	if err != nil {
		return nil, domain.E(domain.KindAssetNotFound, op, err)
	}

	if current.Supply.IsZero() {
		amount := domain.ScaleSupply(req.Supply, current.Decimals)
		if !domain.FitsBaseUnits(amount) {
			return nil, &domain.Error{
				Kind:    domain.KindInvalidParameters,
				Op:      op,
				Address: address,
				Cause:   fmt.Errorf("supply %s with %d decimals is %s base units (max %s)", req.Supply, current.Decimals, amount, domain.MaxBaseUnits),
			}
		}
		if !current.Authorities.Mint {
			return nil, &domain.Error{Kind: domain.KindAuthorityRevoked, Op: op, Address: address, Cause: errors.New("mint authority revoked before supply was minted")}
		}
		if err := s.mintSupply(ctx, signer, op, address, amount, req.WantMintAuthority); err != nil {
			return nil, partial(domain.KindPartiallyIssued, op, address, err)
		}
	} else if !req.WantMintAuthority && current.Authorities.Mint {
		_, err := s.opts.execute(ctx, s.ledger, signer, op, StepRevoke, ledger.RevokeAuthority{Asset: address, Kind: domain.AuthorityMint})
		if err != nil {
			return nil, partial(domain.KindPartiallyIssued, op, address, err)
		}
	}

	return s.opts.recordAsset(ctx, s.ledger, s.registry, op, address)
}

// RefreshAsset re-reads an asset from the ledger and records it. Use it to
// reconcile after an Unknown outcome.
func (s *IssuanceService) RefreshAsset(ctx context.Context, address string) (asset *domain.Asset, err error) {
	const op = "refresh_asset"
	done := s.opts.begin(ctx, op)
	defer func() { done(err) }()

	st, err := s.ledger.AccountState(ctx, address)
	if err != nil {
		return nil, readError(op, err, domain.KindAssetNotFound)
	}
	asset, err = ledger.AssetFromState(st)
	if err != nil {
		return nil, domain.E(domain.KindAssetNotFound, op, err)
	}
	if err := s.registry.PutAsset(ctx, asset); err != nil && !isStale(err) {
		return nil, domain.E(domain.KindStorageUnavailable, op, err)
	}
	s.opts.publishAsset(ctx, op, asset)
	return asset, nil
}

// Asset returns the recorded state of an asset.
func (s *IssuanceService) Asset(ctx context.Context, address string) (*domain.Asset, error) {
	a, err := s.registry.Asset(ctx, address)
	if err != nil {
		return nil, registryError("get_asset", err, domain.KindAssetNotFound)
	}
	return a, nil
}

// AssetsByCreator returns every recorded asset created by creator, oldest first.
func (s *IssuanceService) AssetsByCreator(ctx context.Context, creator string) ([]*domain.Asset, error) {
	out := []*domain.Asset{}
	for a, err := range s.registry.AssetsByCreator(ctx, creator) {
		if err != nil {
			return nil, domain.E(domain.KindStorageUnavailable, "list_assets", err)
		}
		out = append(out, a)
	}
	return out, nil
}
