package store

import "database/sql"

// EnsureSchema creates the tables from spec.md §6, column-for-column
// compatible with the names the spec lists, except platform_balance: the
// platform account is a balance_accounts row (owner_kind 'platform'), see
// DESIGN.md. It also creates trade_stats. Adapted from the teacher's
// pkg/db/db.go EnsureSchema, generalized from OSPay's flat order row to the
// full order/ledger/outbox/event model.
func EnsureSchema(db *sql.DB) error {
	ddl := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number INTEGER NOT NULL,
  user_id TEXT NOT NULL,
  merchant_id TEXT,
  buyer_merchant_id TEXT,
  offer_id TEXT,
  type TEXT NOT NULL,                 -- side: buy | sell
  payment_method TEXT NOT NULL,
  crypto_amount TEXT NOT NULL,
  crypto_currency TEXT NOT NULL,
  fiat_amount TEXT NOT NULL,
  fiat_currency TEXT NOT NULL,
  rate TEXT NOT NULL,
  platform_fee TEXT NOT NULL DEFAULT '0',
  network_fee TEXT NOT NULL DEFAULT '0',
  status TEXT NOT NULL,
  order_version INTEGER NOT NULL DEFAULT 1,
  escrow_tx_hash TEXT,
  escrow_address TEXT,
  escrow_trade_id TEXT,
  escrow_trade_pda TEXT,
  escrow_pda TEXT,
  escrow_creator_wallet TEXT,
  escrow_debited_entity_type TEXT,
  escrow_debited_entity_id TEXT,
  escrow_debited_amount TEXT,
  release_tx_hash TEXT,
  refund_tx_hash TEXT,
  buyer_wallet_address TEXT,
  acceptor_wallet_address TEXT,
  payment_details TEXT,
  protocol_fee_amount TEXT NOT NULL DEFAULT '0',
  protocol_fee_percentage TEXT NOT NULL DEFAULT '0',
  spread_preference TEXT NOT NULL DEFAULT 'best',
  extension_count INTEGER NOT NULL DEFAULT 0,
  max_extensions INTEGER NOT NULL DEFAULT 3,
  created_at TEXT NOT NULL,
  accepted_at TEXT,
  escrowed_at TEXT,
  payment_sent_at TEXT,
  payment_confirmed_at TEXT,
  completed_at TEXT,
  cancelled_at TEXT,
  expires_at TEXT,
  cancelled_by TEXT,
  cancellation_reason TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_order_number ON orders(order_number);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_escrow_txhash_notnull
  ON orders(escrow_tx_hash) WHERE escrow_tx_hash IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_release_txhash_notnull
  ON orders(release_tx_hash) WHERE release_tx_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_orders_status_expires ON orders(status, expires_at);

CREATE TABLE IF NOT EXISTS order_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  actor_type TEXT NOT NULL,
  actor_id TEXT,
  old_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  metadata TEXT,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id, created_at);

CREATE TABLE IF NOT EXISTS notification_outbox (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  last_error TEXT,
  next_attempt_at TEXT NOT NULL,
  created_at TEXT NOT NULL,
  delivered_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_claimable ON notification_outbox(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_outbox_order ON notification_outbox(order_id);

CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  related_order_id TEXT,
  entry_type TEXT NOT NULL,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  debited_entity_type TEXT,
  debited_entity_id TEXT,
  credited_entity_type TEXT,
  credited_entity_id TEXT,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_order ON ledger_entries(related_order_id);

CREATE TABLE IF NOT EXISTS merchants (
  id TEXT PRIMARY KEY,
  name TEXT,
  api_key TEXT NOT NULL UNIQUE,
  merchant_wallet_address TEXT,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT,
  api_key TEXT NOT NULL UNIQUE,
  wallet_address TEXT,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS balance_accounts (
  owner_kind TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  currency TEXT NOT NULL,
  balance TEXT NOT NULL DEFAULT '0',
  locked_in_escrow TEXT NOT NULL DEFAULT '0',
  updated_at TEXT NOT NULL,
  PRIMARY KEY (owner_kind, owner_id, currency)
);

CREATE TABLE IF NOT EXISTS platform_fee_transactions (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  fee_amount TEXT NOT NULL,
  fee_percentage TEXT NOT NULL,
  spread_preference TEXT NOT NULL,
  platform_balance_after TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS merchant_offers (
  id TEXT PRIMARY KEY,
  merchant_id TEXT NOT NULL,
  available_amount TEXT NOT NULL DEFAULT '0',
  currency TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_stats (
  owner_kind TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  currency TEXT NOT NULL,
  completed_count INTEGER NOT NULL DEFAULT 0,
  total_volume TEXT NOT NULL DEFAULT '0',
  updated_at TEXT NOT NULL,
  PRIMARY KEY (owner_kind, owner_id, currency)
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
  key TEXT PRIMARY KEY,
  command TEXT NOT NULL,
  order_id TEXT,
  response_body TEXT NOT NULL,
  response_status INTEGER NOT NULL,
  created_at TEXT NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}
