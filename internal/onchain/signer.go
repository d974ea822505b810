package onchain

import (
	"context"
	"fmt"

	"github.com/pattonkan/sui-go/suisigner"
	"github.com/pattonkan/sui-go/suisigner/suicrypto"

	"github.com/leafsii/launchpad/internal/ledger"
)

// MnemonicSigner signs launchpad transactions with an ed25519 key derived
// from a mnemonic. Wrap it in a ledger.Wallet to give it a connect lifecycle.
type MnemonicSigner struct {
	signer *suisigner.Signer
}

func NewMnemonicSigner(mnemonic string) (*MnemonicSigner, error) {
	signer, err := suisigner.NewSignerWithMnemonic(mnemonic, suicrypto.KeySchemeFlagEd25519)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return &MnemonicSigner{signer: signer}, nil
}

func (s *MnemonicSigner) Address() string {
	return s.signer.Address.String()
}

func (s *MnemonicSigner) Sign(ctx context.Context, tx *ledger.Transaction) (*ledger.SignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx == nil || len(tx.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", ledger.ErrSignerRejected)
	}
	if tx.Sender != s.Address() {
		return nil, fmt.Errorf("%w: transaction sender %s is not %s", ledger.ErrSignerRejected, tx.Sender, s.Address())
	}
	sig, err := s.signer.SignDigest(tx.Payload, suisigner.IntentTransaction())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrSignerRejected, err)
	}
	if sig.Ed25519SuiSignature == nil {
		return nil, fmt.Errorf("%w: signer produced no ed25519 signature", ledger.ErrSignerRejected)
	}
	return &ledger.SignedTransaction{
		Tx:        tx,
		Signature: append([]byte(nil), sig.Ed25519SuiSignature.Signature[:]...),
	}, nil
}
