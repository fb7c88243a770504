// Package postgres persists transfer jobs with lease-based claiming so
// several facilitator daemons can share one database without double-driving
// a job.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakemint/facilitator/internal/transfer"
)

var ErrInvalidConfig = errors.New("transfer/postgres: invalid config")

const jobColumns = `
	request_id, direction, actor, amount::text, beneficiary,
	gas_price::text, gas_limit::text, hash_lock,
	state, message_hash, nonce::text, declared_at_height::text, unlock_secret,
	origin_progressed, aux_progressed, origin_tx_hash, aux_tx_hash, last_error`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("transfer/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) UpsertPending(ctx context.Context, r transfer.Request) (transfer.Job, bool, error) {
	if s == nil || s.pool == nil {
		return transfer.Job{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := r.Validate(); err != nil {
		return transfer.Job{}, false, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO transfer_jobs (
			request_id, direction, actor, amount, beneficiary,
			gas_price, gas_limit, hash_lock, state, created_at, updated_at
		) VALUES ($1,$2,$3,$4::numeric,$5,$6::numeric,$7::numeric,$8,$9,now(),now())
		ON CONFLICT (request_id) DO NOTHING
	`, r.ID[:], string(r.Direction), r.Actor.Bytes(), r.Amount.String(), r.Beneficiary.Bytes(),
		r.GasPrice.String(), r.GasLimit.String(), r.HashLock.Bytes(), int16(transfer.StatePending))
	if err != nil {
		return transfer.Job{}, false, fmt.Errorf("transfer/postgres: insert pending: %w", err)
	}

	existing, err := s.Get(ctx, r.ID)
	if err != nil {
		return transfer.Job{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return existing, true, nil
	}
	if !requestEqual(existing.Request, r) {
		return transfer.Job{}, false, transfer.ErrRequestMismatch
	}
	return existing, false, nil
}

func (s *Store) Get(ctx context.Context, id [32]byte) (transfer.Job, error) {
	if s == nil || s.pool == nil {
		return transfer.Job{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM transfer_jobs WHERE request_id = $1`, id[:])
	return scanJob(row)
}

func (s *Store) GetByMessageHash(ctx context.Context, hash common.Hash) (transfer.Job, error) {
	if s == nil || s.pool == nil {
		return transfer.Job{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM transfer_jobs WHERE message_hash = $1`, hash.Bytes())
	return scanJob(row)
}

func (s *Store) ClaimRunnable(ctx context.Context, owner string, ttl time.Duration, limit int) ([]transfer.Job, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if owner == "" || ttl <= 0 || limit <= 0 {
		return nil, transfer.ErrInvalidRequest
	}

	rows, err := s.pool.Query(ctx, `
		WITH cte AS (
			SELECT tj.request_id
			FROM transfer_jobs tj
			WHERE tj.state < $1
			AND (tj.claimed_by IS NULL OR tj.claim_expires_at <= now())
			ORDER BY tj.created_at ASC, tj.request_id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE transfer_jobs tj
		SET claimed_by = $3,
			claim_expires_at = now() + ($4::bigint * interval '1 millisecond'),
			updated_at = now()
		FROM cte
		WHERE tj.request_id = cte.request_id
		RETURNING `+qualifyColumns("tj")+`
	`, int16(transfer.StateProgressed), limit, owner, ttlMilliseconds(ttl))
	if err != nil {
		return nil, fmt.Errorf("transfer/postgres: claim runnable: %w", err)
	}
	defer rows.Close()

	var out []transfer.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer/postgres: claim rows: %w", err)
	}
	return out, nil
}

func (s *Store) MarkDeclared(ctx context.Context, id [32]byte, messageHash common.Hash, nonce, declaredAtHeight *big.Int) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if messageHash == (common.Hash{}) || nonce == nil || declaredAtHeight == nil {
		return transfer.ErrInvalidRequest
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transfer_jobs
		SET state = $2, message_hash = $3, nonce = $4::numeric,
			declared_at_height = $5::numeric, updated_at = now()
		WHERE request_id = $1 AND state < $2
	`, id[:], int16(transfer.StateDeclared), messageHash.Bytes(), nonce.String(), declaredAtHeight.String())
	if err != nil {
		return fmt.Errorf("transfer/postgres: mark declared: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.MessageHash != messageHash {
		return transfer.ErrRequestMismatch
	}
	return nil
}

func (s *Store) MarkConfirmed(ctx context.Context, id [32]byte) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transfer_jobs
		SET state = $2, updated_at = now()
		WHERE request_id = $1 AND state = $3
	`, id[:], int16(transfer.StateConfirmed), int16(transfer.StateDeclared))
	if err != nil {
		return fmt.Errorf("transfer/postgres: mark confirmed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.State >= transfer.StateConfirmed {
		return nil
	}
	return transfer.ErrInvalidTransition
}

func (s *Store) MarkLegProgressed(ctx context.Context, id [32]byte, leg transfer.Leg, txHash common.Hash) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if txHash == (common.Hash{}) {
		return transfer.ErrInvalidRequest
	}

	var flagCol, txCol string
	switch leg {
	case transfer.LegOrigin:
		flagCol, txCol = "origin_progressed", "origin_tx_hash"
	case transfer.LegAuxiliary:
		flagCol, txCol = "aux_progressed", "aux_tx_hash"
	default:
		return transfer.ErrInvalidRequest
	}

	// The state expression recomputes half vs fully progressed from the two
	// leg flags after this write.
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE transfer_jobs
		SET %[1]s = TRUE,
			%[2]s = $2,
			state = CASE WHEN origin_progressed AND aux_progressed THEN $3 ELSE $4 END,
			updated_at = now()
		WHERE request_id = $1 AND state >= $5 AND %[1]s = FALSE
	`, flagCol, txCol),
		id[:], txHash.Bytes(),
		int16(transfer.StateProgressed), int16(transfer.StateHalfProgressed),
		int16(transfer.StateConfirmed))
	if err != nil {
		return fmt.Errorf("transfer/postgres: mark leg progressed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.State < transfer.StateConfirmed {
		return transfer.ErrInvalidTransition
	}
	var existingTx common.Hash
	var done bool
	switch leg {
	case transfer.LegOrigin:
		existingTx, done = existing.OriginTxHash, existing.OriginProgressed
	case transfer.LegAuxiliary:
		existingTx, done = existing.AuxTxHash, existing.AuxProgressed
	}
	if done && existingTx == txHash {
		return nil
	}
	return transfer.ErrRequestMismatch
}

func (s *Store) SetUnlockSecret(ctx context.Context, id [32]byte, secret common.Hash) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if secret == (common.Hash{}) {
		return transfer.ErrInvalidRequest
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transfer_jobs
		SET unlock_secret = $2, updated_at = now()
		WHERE request_id = $1 AND unlock_secret IS NULL
	`, id[:], secret.Bytes())
	if err != nil {
		return fmt.Errorf("transfer/postgres: set unlock secret: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.UnlockSecret == secret {
		return nil
	}
	return transfer.ErrRequestMismatch
}

func (s *Store) RecordError(ctx context.Context, id [32]byte, msg string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transfer_jobs SET last_error = $2, updated_at = now() WHERE request_id = $1
	`, id[:], msg)
	if err != nil {
		return fmt.Errorf("transfer/postgres: record error: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return transfer.ErrNotFound
	}
	return nil
}

func qualifyColumns(alias string) string {
	return fmt.Sprintf(`
	%[1]s.request_id, %[1]s.direction, %[1]s.actor, %[1]s.amount::text, %[1]s.beneficiary,
	%[1]s.gas_price::text, %[1]s.gas_limit::text, %[1]s.hash_lock,
	%[1]s.state, %[1]s.message_hash, %[1]s.nonce::text, %[1]s.declared_at_height::text, %[1]s.unlock_secret,
	%[1]s.origin_progressed, %[1]s.aux_progressed, %[1]s.origin_tx_hash, %[1]s.aux_tx_hash, %[1]s.last_error`, alias)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (transfer.Job, error) {
	var (
		idRaw, actorRaw, beneficiaryRaw, hashLockRaw []byte
		direction, amountStr, gasPriceStr, gasLimStr string
		state                                        int16
		messageHashRaw, secretRaw                    []byte
		nonceStr, declaredStr                        *string
		originDone, auxDone                          bool
		originTxRaw, auxTxRaw                        []byte
		lastError                                    string
	)
	err := row.Scan(
		&idRaw, &direction, &actorRaw, &amountStr, &beneficiaryRaw,
		&gasPriceStr, &gasLimStr, &hashLockRaw,
		&state, &messageHashRaw, &nonceStr, &declaredStr, &secretRaw,
		&originDone, &auxDone, &originTxRaw, &auxTxRaw, &lastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transfer.Job{}, transfer.ErrNotFound
		}
		return transfer.Job{}, fmt.Errorf("transfer/postgres: scan job: %w", err)
	}

	id, err := to32(idRaw)
	if err != nil {
		return transfer.Job{}, err
	}
	amount, err := parseNumeric(amountStr)
	if err != nil {
		return transfer.Job{}, err
	}
	gasPrice, err := parseNumeric(gasPriceStr)
	if err != nil {
		return transfer.Job{}, err
	}
	gasLimit, err := parseNumeric(gasLimStr)
	if err != nil {
		return transfer.Job{}, err
	}

	j := transfer.Job{
		Request: transfer.Request{
			ID:          id,
			Direction:   transfer.Direction(direction),
			Actor:       common.BytesToAddress(actorRaw),
			Amount:      amount,
			Beneficiary: common.BytesToAddress(beneficiaryRaw),
			GasPrice:    gasPrice,
			GasLimit:    gasLimit,
			HashLock:    common.BytesToHash(hashLockRaw),
		},
		State:            transfer.State(state),
		OriginProgressed: originDone,
		AuxProgressed:    auxDone,
		LastError:        lastError,
	}
	if len(messageHashRaw) > 0 {
		j.MessageHash = common.BytesToHash(messageHashRaw)
	}
	if nonceStr != nil {
		if j.Nonce, err = parseNumeric(*nonceStr); err != nil {
			return transfer.Job{}, err
		}
	}
	if declaredStr != nil {
		if j.DeclaredAtHeight, err = parseNumeric(*declaredStr); err != nil {
			return transfer.Job{}, err
		}
	}
	if len(secretRaw) > 0 {
		j.UnlockSecret = common.BytesToHash(secretRaw)
	}
	if len(originTxRaw) > 0 {
		j.OriginTxHash = common.BytesToHash(originTxRaw)
	}
	if len(auxTxRaw) > 0 {
		j.AuxTxHash = common.BytesToHash(auxTxRaw)
	}
	return j, nil
}

func parseNumeric(v string) (*big.Int, error) {
	out, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("transfer/postgres: malformed numeric %q", v)
	}
	return out, nil
}

func requestEqual(a, b transfer.Request) bool {
	return a.ID == b.ID &&
		a.Direction == b.Direction &&
		a.Actor == b.Actor &&
		a.Amount.Cmp(b.Amount) == 0 &&
		a.Beneficiary == b.Beneficiary &&
		a.GasPrice.Cmp(b.GasPrice) == 0 &&
		a.GasLimit.Cmp(b.GasLimit) == 0 &&
		a.HashLock == b.HashLock
}

func to32(b []byte) ([32]byte, error) {
	if len(b) != 32 {
		return [32]byte{}, fmt.Errorf("transfer/postgres: expected 32 bytes, got %d", len(b))
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func ttlMilliseconds(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return 1
	}
	return ms
}

var _ transfer.Store = (*Store)(nil)
