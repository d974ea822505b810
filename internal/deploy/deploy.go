// Package deploy publishes the launchpad Move package and reports the ids the
// API server loads from deployment.json.
package deploy

import (
	"context"
	"fmt"

	"github.com/pattonkan/sui-go/sui"
	"github.com/pattonkan/sui-go/suiclient"
	"github.com/pattonkan/sui-go/suisigner"
	"github.com/pattonkan/sui-go/utils"
	"go.uber.org/zap"

	"github.com/leafsii/launchpad/internal/config"
)

// ModuleBuilder compiles a Move package. movebuild.Builder implements it.
type ModuleBuilder interface {
	Build(ctx context.Context, dir string) (*utils.CompiledMoveModules, error)
}

type Deployer struct {
	client    *suiclient.ClientImpl
	signer    *suisigner.Signer
	builder   ModuleBuilder
	gasBudget uint64
	logger    *zap.SugaredLogger
}

func New(client *suiclient.ClientImpl, signer *suisigner.Signer, builder ModuleBuilder, gasBudget uint64, logger *zap.SugaredLogger) *Deployer {
	if gasBudget == 0 {
		gasBudget = 10 * suiclient.DefaultGasBudget
	}
	return &Deployer{
		client:    client,
		signer:    signer,
		builder:   builder,
		gasBudget: gasBudget,
		logger:    logger,
	}
}

// Deploy builds the package at movePath, publishes it from the signer's
// account and returns the resulting deployment.
func (d *Deployer) Deploy(ctx context.Context, movePath, network string) (config.Deployment, error) {
	var out config.Deployment

	modules, err := d.builder.Build(ctx, movePath)
	if err != nil {
		return out, fmt.Errorf("build launchpad package: %w", err)
	}
	d.logger.Infow("Move package built", "path", movePath, "modules", len(modules.Modules))

	txBytes, err := d.client.Publish(ctx, &suiclient.PublishRequest{
		Sender:          d.signer.Address,
		CompiledModules: modules.Modules,
		Dependencies:    modules.Dependencies,
		GasBudget:       sui.NewBigInt(d.gasBudget),
	})
	if err != nil {
		return out, fmt.Errorf("prepare publish transaction: %w", err)
	}

	resp, err := d.client.SignAndExecuteTransaction(ctx, d.signer, txBytes.TxBytes, &suiclient.SuiTransactionBlockResponseOptions{
		ShowEffects:       true,
		ShowObjectChanges: true,
	})
	if err != nil {
		return out, fmt.Errorf("execute publish transaction: %w", err)
	}
	if resp.Effects == nil || !resp.Effects.Data.IsSuccess() {
		return out, fmt.Errorf("publish transaction %s failed: %v", resp.Digest.String(), resp.Errors)
	}

	packageID, err := resp.GetPublishedPackageId()
	if err != nil {
		return out, fmt.Errorf("published package id: %w", err)
	}
	upgradeCap, _, err := resp.GetCreatedObjectInfo("package", "UpgradeCap")
	if err != nil {
		return out, fmt.Errorf("upgrade cap id: %w", err)
	}

	d.logger.Infow("Launchpad package published",
		"package", packageID.String(),
		"upgrade_cap", upgradeCap.String(),
		"digest", resp.Digest.String(),
	)

	out.LaunchpadPackageId = packageID
	out.UpgradeCapId = upgradeCap
	out.PublisherAddr = d.signer.Address
	out.Network = network
	return out, nil
}
