// Package payment defines the port for the external wallet and transfer provider.
package payment

import (
	"context"

	"github.com/Strob0t/SpendPilot/internal/domain/payment"
)

// Provider is the external payment-execution service. Wallets, payees and
// transfers are addressed by opaque ids.
type Provider interface {
	// WalletExists reports whether walletID is known to the provider.
	WalletExists(ctx context.Context, walletID string) (bool, error)

	// Balance returns the available balance of a wallet.
	Balance(ctx context.Context, walletID string) (float64, error)

	// CreatePayee registers a recipient on the wallet.
	CreatePayee(ctx context.Context, walletID string, req payment.PayeeRequest) (*payment.Payee, error)

	// ListPayees returns the recipients registered on the wallet.
	ListPayees(ctx context.Context, walletID string) ([]payment.Payee, error)

	// Transfer issues a transfer. The provider deduplicates on req.Reference.
	Transfer(ctx context.Context, req payment.TransferRequest) (*payment.Transfer, error)
}
