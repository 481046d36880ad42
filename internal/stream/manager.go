// Package stream pumps ledger pubsub notifications into the refresh
// orchestrator and keeps the subscription watch set aligned with the queue.
// Two connections: one for obligation and reserve accounts, one for the
// price oracles. Retargeting adds and removes subscriptions on the live
// connections, it never reconnects.
package stream

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/observability"
	"solana-liquidator/internal/solana"
)

// Handler consumes the decoded stream events. The refresh orchestrator is
// the production implementation.
type Handler interface {
	HandleAccountUpdate(ev domain.AccountUpdate)
	HandleMintUpdate(ev domain.PriceUpdate)
}

// Manager owns the two pubsub connections.
type Manager struct {
	accounts solana.WSClient
	prices   solana.WSClient
	handler  Handler
	logger   *zap.Logger

	// oracleByMint maps an asset mint to its oracle account; mintByOracle
	// is the reverse for resolving inbound notifications.
	oracleByMint map[string]string
	mintByOracle map[string]string
}

// NewManager wires a stream manager. The prices client may be nil when no
// oracle accounts are configured; price fan-out is then driven solely by
// account updates.
func NewManager(accounts, prices solana.WSClient, oracleByMint map[string]string, handler Handler, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	mintByOracle := make(map[string]string, len(oracleByMint))
	for mint, oracle := range oracleByMint {
		if oracle != "" {
			mintByOracle[oracle] = mint
		}
	}
	return &Manager{
		accounts:     accounts,
		prices:       prices,
		handler:      handler,
		logger:       logger,
		oracleByMint: oracleByMint,
		mintByOracle: mintByOracle,
	}
}

// Run pumps notifications until the context ends or a connection dies. A
// dead connection is fatal: the reconnect budget lives inside the client,
// so an error here means it is exhausted.
func (m *Manager) Run(ctx context.Context) error {
	accountCh := m.accounts.Notifications()
	accountFatal := m.accounts.Fatal()

	var priceCh <-chan solana.AccountNotification
	var priceFatal <-chan error
	if m.prices != nil {
		priceCh = m.prices.Notifications()
		priceFatal = m.prices.Fatal()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case notif, ok := <-accountCh:
			if !ok {
				return fmt.Errorf("account stream closed")
			}
			m.handler.HandleAccountUpdate(domain.AccountUpdate{
				Pubkey:  notif.Pubkey,
				Slot:    notif.Slot,
				Payload: notif.Data,
			})

		case notif, ok := <-priceCh:
			if !ok {
				return fmt.Errorf("price stream closed")
			}
			mint, known := m.mintByOracle[notif.Pubkey]
			if !known {
				// Leftover subscription from a previous watch set.
				continue
			}
			m.handler.HandleMintUpdate(domain.PriceUpdate{
				Mint:    mint,
				Pubkey:  notif.Pubkey,
				Slot:    notif.Slot,
				Payload: notif.Data,
			})

		case err := <-accountFatal:
			return fmt.Errorf("account stream: %w", err)

		case err := <-priceFatal:
			return fmt.Errorf("price stream: %w", err)
		}
	}
}

// Retarget aligns both watch sets with the given plans: obligations and
// their reserves on the account stream, their legs' oracles on the price
// stream.
func (m *Manager) Retarget(ctx context.Context, plans []*domain.Plan) error {
	accounts := make(map[string]bool)
	oracles := make(map[string]bool)
	for _, p := range plans {
		accounts[p.Obligation] = true
		accounts[p.RepayReservePubkey] = true
		accounts[p.CollateralReservePubkey] = true
		for _, r := range p.AuxReserves() {
			accounts[r] = true
		}
		for _, mint := range p.Mints() {
			if oracle := m.oracleByMint[mint]; oracle != "" {
				oracles[oracle] = true
			}
		}
	}
	delete(accounts, "")

	if err := retargetClient(ctx, m.accounts, accounts); err != nil {
		return fmt.Errorf("retarget account stream: %w", err)
	}
	if m.prices != nil {
		if err := retargetClient(ctx, m.prices, oracles); err != nil {
			return fmt.Errorf("retarget price stream: %w", err)
		}
	}

	watched := len(m.accounts.Watched())
	if m.prices != nil {
		watched += len(m.prices.Watched())
	}
	observability.SetWatchSetSize(watched)
	m.logger.Debug("watch set retargeted",
		zap.Int("accounts", len(accounts)),
		zap.Int("oracles", len(oracles)))
	return nil
}

// retargetClient diffs the desired set against the client's watch set and
// applies the changes on the live connection.
func retargetClient(ctx context.Context, client solana.WSClient, desired map[string]bool) error {
	current := client.Watched()
	currentSet := make(map[string]bool, len(current))
	for _, pk := range current {
		currentSet[pk] = true
	}

	var add, remove []string
	for pk := range desired {
		if !currentSet[pk] {
			add = append(add, pk)
		}
	}
	for _, pk := range current {
		if !desired[pk] {
			remove = append(remove, pk)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)

	if len(remove) > 0 {
		if err := client.Unwatch(ctx, remove...); err != nil {
			return err
		}
	}
	if len(add) > 0 {
		if err := client.Watch(ctx, add...); err != nil {
			return err
		}
	}
	return nil
}
