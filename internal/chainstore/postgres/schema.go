package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chain_accounts (
	address TEXT PRIMARY KEY,
	balance NUMERIC(78,0) NOT NULL,
	code BYTEA,
	data BYTEA,
	last_lt BIGINT NOT NULL,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT balance_nonneg CHECK (balance >= 0),
	CONSTRAINT last_lt_nonneg CHECK (last_lt >= 0)
);

CREATE TABLE IF NOT EXISTS chain_transactions (
	account TEXT NOT NULL REFERENCES chain_accounts (address),
	lt BIGINT NOT NULL,
	hash BYTEA NOT NULL,

	kind SMALLINT NOT NULL,
	src TEXT NOT NULL DEFAULT '',
	value NUMERIC(78,0) NOT NULL DEFAULT 0,
	bounced BOOLEAN NOT NULL DEFAULT false,
	in_body BYTEA,

	op BIGINT NOT NULL,
	exit_code INTEGER NOT NULL,
	gas_used BIGINT NOT NULL,
	compute_fee NUMERIC(78,0) NOT NULL DEFAULT 0,
	forward_fee NUMERIC(78,0) NOT NULL DEFAULT 0,

	logs BYTEA[] NOT NULL DEFAULT '{}',
	transfers JSONB NOT NULL DEFAULT '[]',

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	PRIMARY KEY (account, lt),
	CONSTRAINT hash_len CHECK (octet_length(hash) = 32),
	CONSTRAINT kind_range CHECK (kind >= 1 AND kind <= 2)
);

ALTER TABLE chain_transactions ADD COLUMN IF NOT EXISTS consumes JSONB;

CREATE TABLE IF NOT EXISTS chain_pending (
	seq BIGSERIAL PRIMARY KEY,
	src TEXT NOT NULL,
	src_lt BIGINT NOT NULL,
	idx INTEGER NOT NULL,

	sender TEXT NOT NULL,
	dst TEXT NOT NULL,
	amount NUMERIC(78,0) NOT NULL,
	bounce BOOLEAN NOT NULL DEFAULT false,
	bounced BOOLEAN NOT NULL DEFAULT false,
	body BYTEA,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT pending_id UNIQUE (src, src_lt, idx),
	CONSTRAINT amount_nonneg CHECK (amount >= 0)
);

CREATE TABLE IF NOT EXISTS chain_cursors (
	name TEXT PRIMARY KEY,
	lt BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
