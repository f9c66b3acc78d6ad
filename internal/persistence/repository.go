package persistence

import "ai-trading-bot-go/internal/models"

// Repository defines the interface for durable bot state.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type Repository interface {
	// SaveLedger atomically saves the entire ledger state.
	SaveLedger(state *models.LedgerState) error

	// LoadLedger loads the ledger state from storage.
	// If no state is found, it should return (nil, nil).
	LoadLedger() (*models.LedgerState, error)

	// SaveConfig persists the active runtime configuration.
	SaveConfig(config *models.Config) error

	// LoadConfig loads the last persisted configuration.
	// If none is found, it should return (nil, nil).
	LoadConfig() (*models.Config, error)

	// AppendTrade appends one trade record to the immutable trade log.
	AppendTrade(trade *models.Trade) error

	// ListTrades returns up to limit most recent trades, newest first.
	// A non-positive limit returns the whole log.
	ListTrades(limit int) ([]*models.Trade, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
