package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"ai-trading-bot-go/internal/models"
)

var (
	ledgerKey   = []byte("ledger_state")
	configKey   = []byte("bot_config")
	tradePrefix = []byte("trade:")
	tradeSeqKey = []byte("trade_seq")
)

// badgerRepository is the BadgerDB implementation of the Repository.
type badgerRepository struct {
	db       *badger.DB
	tradeSeq *badger.Sequence
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (Repository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence(tradeSeqKey, 128)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &badgerRepository{db: db, tradeSeq: seq}, nil
}

// SaveLedger atomically saves the entire ledger state.
// It marshals the state struct into JSON and saves it under a predefined key.
func (r *badgerRepository) SaveLedger(state *models.LedgerState) error {
	return r.saveJSON(ledgerKey, state)
}

// LoadLedger loads the ledger state from storage.
// If the key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadLedger() (*models.LedgerState, error) {
	var state models.LedgerState
	found, err := r.loadJSON(ledgerKey, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

// SaveConfig persists the active runtime configuration.
func (r *badgerRepository) SaveConfig(config *models.Config) error {
	return r.saveJSON(configKey, config)
}

// LoadConfig loads the last persisted configuration.
func (r *badgerRepository) LoadConfig() (*models.Config, error) {
	var config models.Config
	found, err := r.loadJSON(configKey, &config)
	if err != nil || !found {
		return nil, err
	}
	return &config, nil
}

// AppendTrade writes one trade record under a monotonically increasing key,
// so iteration order is insertion order.
func (r *badgerRepository) AppendTrade(trade *models.Trade) error {
	seq, err := r.tradeSeq.Next()
	if err != nil {
		return err
	}
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	key := []byte(fmt.Sprintf("%s%012d", tradePrefix, seq))
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// ListTrades returns up to limit most recent trades, newest first.
func (r *badgerRepository) ListTrades(limit int) ([]*models.Trade, error) {
	var trades []*models.Trade

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = tradePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek position past the last trade key.
		seekKey := append(append([]byte{}, tradePrefix...), 0xff)
		for it.Seek(seekKey); it.Valid(); it.Next() {
			if limit > 0 && len(trades) >= limit {
				break
			}
			var trade models.Trade
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &trade)
			})
			if err != nil {
				return err
			}
			trades = append(trades, &trade)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// Close releases the sequence lease and closes the database.
func (r *badgerRepository) Close() error {
	if err := r.tradeSeq.Release(); err != nil {
		return err
	}
	return r.db.Close()
}

func (r *badgerRepository) saveJSON(key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// loadJSON reports whether the key existed; absence is not an error.
func (r *badgerRepository) loadJSON(key []byte, dst interface{}) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("value is empty in database")
			}
			return json.Unmarshal(val, dst)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
