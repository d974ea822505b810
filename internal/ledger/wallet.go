package ledger

import (
	"context"
	"sync"
)

// Wallet gives a Signer an explicit connect/disconnect lifecycle. It is owned
// and passed around by the caller; there is no process-wide wallet.
type Wallet struct {
	mu        sync.RWMutex
	signer    Signer
	connected bool
}

func NewWallet(signer Signer) *Wallet {
	return &Wallet{signer: signer}
}

func (w *Wallet) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	return nil
}

func (w *Wallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
}

func (w *Wallet) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Wallet) Address() string {
	return w.signer.Address()
}

// Sign fails with ErrNotConnected while the wallet is disconnected.
func (w *Wallet) Sign(ctx context.Context, tx *Transaction) (*SignedTransaction, error) {
	if !w.Connected() {
		return nil, ErrNotConnected
	}
	return w.signer.Sign(ctx, tx)
}
