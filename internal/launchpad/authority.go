package launchpad

import (
	"context"
	"errors"
	"strings"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger"
)

// AuthorityService revokes asset authorities and updates metadata while the
// update authority is still held.
type AuthorityService struct {
	ledger   ledger.Client
	registry Registry
	opts     options
}

func NewAuthorityService(client ledger.Client, reg Registry, opts ...Option) *AuthorityService {
	return &AuthorityService{
		ledger:   client,
		registry: reg,
		opts:     newOptions(opts),
	}
}

// Revoke drops one authority of a recorded asset. Revoking an authority that
// is already inactive, in the registry or on the ledger, succeeds without
// submitting anything.
func (s *AuthorityService) Revoke(ctx context.Context, signer ledger.Signer, address string, kind domain.AuthorityKind) (asset *domain.Asset, err error) {
	const op = "revoke"
	done := s.opts.begin(ctx, op)
	defer func() { done(err) }()

	if _, perr := domain.ParseAuthorityKind(string(kind)); perr != nil {
		return nil, domain.E(domain.KindInvalidParameters, op, perr)
	}

	stored, err := s.registry.Asset(ctx, address)
	if err != nil {
		return nil, registryError(op, err, domain.KindAssetNotFound)
	}
	if !stored.Authorities.Active(kind) {
		s.opts.logger.Infow("Authority already revoked",
			"address", address,
			"authority", kind,
		)
		return stored, nil
	}

	// After an Unknown outcome the registry can lag the ledger.
	st, err := s.ledger.AccountState(ctx, address)
	if err != nil {
		return nil, readError(op, err, domain.KindAssetNotFound)
	}
	current, err := ledger.AssetFromState(st)
	if err != nil {
		return nil, domain.E(domain.KindAssetNotFound, op, err)
	}
	if !current.Authorities.Active(kind) {
		s.opts.logger.Infow("Authority already revoked on ledger, recording",
			"address", address,
			"authority", kind,
			"version", current.Version,
		)
		return s.opts.recordAsset(ctx, s.ledger, s.registry, op, address)
	}

	if _, err := s.opts.execute(ctx, s.ledger, signer, op, StepRevoke, ledger.RevokeAuthority{Asset: address, Kind: kind}); err != nil {
		return nil, err
	}

	asset, err = s.opts.recordAsset(ctx, s.ledger, s.registry, op, address)
	if err != nil {
		return nil, err
	}
	if asset.Authorities.Active(kind) {
		s.opts.logger.Warnw("Authority still active after confirmed revocation",
			"address", address,
			"authority", kind,
			"version", asset.Version,
		)
	}
	return asset, nil
}

// UpdateMetadata uploads new metadata and points the asset at it. It fails with
// AuthorityRevoked once the update authority has been dropped.
func (s *AuthorityService) UpdateMetadata(ctx context.Context, signer ledger.Signer, address string, meta domain.Metadata) (asset *domain.Asset, err error) {
	const op = "update_metadata"
	done := s.opts.begin(ctx, op)
	defer func() { done(err) }()

	stored, err := s.registry.Asset(ctx, address)
	if err != nil {
		return nil, registryError(op, err, domain.KindAssetNotFound)
	}
	if !stored.Authorities.Update {
		return nil, &domain.Error{
			Kind:    domain.KindAuthorityRevoked,
			Op:      op,
			Address: address,
			Cause:   errors.New("update authority has been revoked"),
		}
	}

	if strings.TrimSpace(meta.Name) == "" {
		meta.Name = stored.Name
	}
	meta.Symbol = stored.Symbol
	meta.Decimals = stored.Decimals
	if meta.Supply == "" {
		meta.Supply = stored.Supply.Shift(-int32(stored.Decimals)).String()
	}

	uri, err := s.opts.upload(ctx, op, meta)
	if err != nil {
		return nil, err
	}

	if _, err := s.opts.execute(ctx, s.ledger, signer, op, StepSetMetadata, ledger.SetMetadataURI{Asset: address, URI: uri}); err != nil {
		return nil, err
	}
	return s.opts.recordAsset(ctx, s.ledger, s.registry, op, address)
}
