// Command deploy publishes the launchpad Move package and writes the
// deployment.json the API server reads its package id from.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pattonkan/sui-go/suiclient"
	"github.com/pattonkan/sui-go/suiclient/conn"
	"github.com/pattonkan/sui-go/suisigner"
	"github.com/pattonkan/sui-go/suisigner/suicrypto"

	"github.com/leafsii/launchpad/internal/config"
	"github.com/leafsii/launchpad/internal/deploy"
	"github.com/leafsii/launchpad/internal/log"
	"github.com/leafsii/launchpad/internal/movebuild"
)

func main() {
	cfg, err := config.LoadDeploy()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar("dev", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	signer, err := suisigner.NewSignerWithMnemonic(cfg.Sui.Mnemonic, suicrypto.KeySchemeFlagEd25519)
	if err != nil {
		logger.Fatalw("Failed to create signer", "error", err)
	}
	logger.Infow("Deploying launchpad package",
		"network", cfg.Sui.Network,
		"rpc", cfg.Sui.RPCURL,
		"publisher", signer.Address.String(),
		"path", cfg.MovePath,
	)

	faucet := cfg.FaucetURL
	if faucet == "" && cfg.Sui.Network == "localnet" {
		faucet = conn.LocalnetFaucetUrl
	}
	if faucet != "" {
		if err := suiclient.RequestFundFromFaucet(signer.Address, faucet); err != nil {
			logger.Warnw("Faucet request failed, publishing with existing balance", "faucet", faucet, "error", err)
		} else {
			// let the faucet coins land before selecting gas
			time.Sleep(time.Second)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := suiclient.NewClient(cfg.Sui.RPCURL)
	deployer := deploy.New(client, signer, movebuild.Builder{SuiBin: os.Getenv("SUI_BIN")}, cfg.Sui.GasBudget, logger)
	d, err := deployer.Deploy(ctx, cfg.MovePath, cfg.Sui.Network)
	if err != nil {
		logger.Fatalw("Deployment failed", "error", err)
	}

	if err := config.WriteDeployment(cfg.Sui.DeploymentPath, d); err != nil {
		logger.Fatalw("Failed to write deployment", "path", cfg.Sui.DeploymentPath, "error", err)
	}
	logger.Infow("Deployment written",
		"path", cfg.Sui.DeploymentPath,
		"package", d.LaunchpadPackageId.String(),
	)
}
