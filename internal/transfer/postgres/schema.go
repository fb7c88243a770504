package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transfer_jobs (
	request_id BYTEA PRIMARY KEY,
	direction TEXT NOT NULL,
	actor BYTEA NOT NULL,
	amount NUMERIC(78,0) NOT NULL,
	beneficiary BYTEA NOT NULL,
	gas_price NUMERIC(78,0) NOT NULL,
	gas_limit NUMERIC(78,0) NOT NULL,
	hash_lock BYTEA NOT NULL,

	state SMALLINT NOT NULL,
	message_hash BYTEA,
	nonce NUMERIC(78,0),
	declared_at_height NUMERIC(78,0),
	unlock_secret BYTEA,

	origin_progressed BOOLEAN NOT NULL DEFAULT FALSE,
	aux_progressed BOOLEAN NOT NULL DEFAULT FALSE,
	origin_tx_hash BYTEA,
	aux_tx_hash BYTEA,

	last_error TEXT NOT NULL DEFAULT '',

	claimed_by TEXT,
	claim_expires_at TIMESTAMPTZ,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT request_id_len CHECK (octet_length(request_id) = 32),
	CONSTRAINT direction_valid CHECK (direction IN ('stake', 'redeem')),
	CONSTRAINT actor_len CHECK (octet_length(actor) = 20),
	CONSTRAINT amount_positive CHECK (amount > 0),
	CONSTRAINT beneficiary_len CHECK (octet_length(beneficiary) = 20),
	CONSTRAINT gas_nonneg CHECK (gas_price >= 0 AND gas_limit >= 0),
	CONSTRAINT hash_lock_len CHECK (octet_length(hash_lock) = 32),
	CONSTRAINT state_range CHECK (state >= 1 AND state <= 5),
	CONSTRAINT message_hash_len CHECK (message_hash IS NULL OR octet_length(message_hash) = 32),
	CONSTRAINT unlock_secret_len CHECK (unlock_secret IS NULL OR octet_length(unlock_secret) = 32),
	CONSTRAINT origin_tx_hash_len CHECK (origin_tx_hash IS NULL OR octet_length(origin_tx_hash) = 32),
	CONSTRAINT aux_tx_hash_len CHECK (aux_tx_hash IS NULL OR octet_length(aux_tx_hash) = 32),
	CONSTRAINT claim_owner_nonempty CHECK (claimed_by IS NULL OR claimed_by <> '')
);

CREATE UNIQUE INDEX IF NOT EXISTS transfer_jobs_message_hash_uniq ON transfer_jobs (message_hash) WHERE message_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS transfer_jobs_state_idx ON transfer_jobs (state);
CREATE INDEX IF NOT EXISTS transfer_jobs_claim_idx ON transfer_jobs (claim_expires_at);
`
