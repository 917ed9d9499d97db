package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
)

// SQLStore implements ProposalStore, SubmissionStore and RoleStore over
// database/sql. The statements use $n placeholders and run unchanged on
// Postgres (lib/pq) and SQLite (modernc.org/sqlite).
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle. Call Init before first use.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Init creates the schema if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS proposals (
			id TEXT PRIMARY KEY,
			deadline BIGINT NOT NULL,
			choices INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			initiated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vote_submissions (
			proposal TEXT PRIMARY KEY,
			choice TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			version TEXT NOT NULL,
			space TEXT NOT NULL,
			type TEXT NOT NULL,
			message_hash TEXT NOT NULL,
			approved BOOLEAN NOT NULL,
			submitted_at BIGINT NOT NULL,
			proposer TEXT NOT NULL,
			verifier TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			scope TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, p contracts.Proposal) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO proposals (id, deadline, choices, kind, initiated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		p.ID.Hex(), p.Deadline, int64(p.Choices), int64(p.Kind), p.InitiatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: create proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: create proposal: %w", err)
	}
	if n == 0 {
		return contracts.ErrDuplicateProposal
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id common.Hash) (*contracts.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, deadline, choices, kind, initiated_at FROM proposals WHERE id = $1`, id.Hex())
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get proposal: %w", err)
	}
	return p, nil
}

func (s *SQLStore) List(ctx context.Context) ([]contracts.Proposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deadline, choices, kind, initiated_at FROM proposals ORDER BY initiated_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list proposals: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(row scanner) (*contracts.Proposal, error) {
	var (
		id                         string
		deadline, choices, kind, t int64
	)
	if err := row.Scan(&id, &deadline, &choices, &kind, &t); err != nil {
		return nil, err
	}
	return &contracts.Proposal{
		ID:          common.HexToHash(id),
		Deadline:    deadline,
		Choices:     uint32(choices),
		Kind:        contracts.VotingType(kind),
		InitiatedAt: time.Unix(0, t).UTC(),
	}, nil
}

// Put upserts the submission row. The whole record is replaced, so a
// resubmission clears approved and verifier in the same statement.
func (s *SQLStore) Put(ctx context.Context, sub contracts.VoteSubmission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_submissions (proposal, choice, timestamp, version, space, type, message_hash, approved, submitted_at, proposer, verifier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (proposal) DO UPDATE SET
			choice = excluded.choice,
			timestamp = excluded.timestamp,
			version = excluded.version,
			space = excluded.space,
			type = excluded.type,
			message_hash = excluded.message_hash,
			approved = excluded.approved,
			submitted_at = excluded.submitted_at,
			proposer = excluded.proposer,
			verifier = excluded.verifier`,
		sub.Proposal, string(sub.Choice.JSON()), sub.Timestamp, sub.Version, sub.Space, sub.Type,
		sub.MessageHash.Hex(), sub.Approved, sub.SubmittedAt.UnixNano(), sub.Proposer.Hex(), sub.Verifier.Hex(),
	)
	if err != nil {
		return fmt.Errorf("store: put submission: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSubmission(ctx context.Context, identifier string) (*contracts.VoteSubmission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT proposal, choice, timestamp, version, space, type, message_hash, approved, submitted_at, proposer, verifier
		FROM vote_submissions WHERE proposal = $1`, identifier)

	var (
		sub                          contracts.VoteSubmission
		choice, hash, prop, verifier string
		submittedAt                  int64
	)
	err := row.Scan(&sub.Proposal, &choice, &sub.Timestamp, &sub.Version, &sub.Space, &sub.Type,
		&hash, &sub.Approved, &submittedAt, &prop, &verifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrNoSubmission
	}
	if err != nil {
		return nil, fmt.Errorf("store: get submission: %w", err)
	}

	sub.Choice, err = contracts.ParseChoice([]byte(choice))
	if err != nil {
		return nil, fmt.Errorf("store: decode choice for %q: %w", identifier, err)
	}
	sub.MessageHash = common.HexToHash(hash)
	sub.SubmittedAt = time.Unix(0, submittedAt).UTC()
	sub.Proposer = common.HexToAddress(prop)
	sub.Verifier = common.HexToAddress(verifier)
	return &sub, nil
}

func (s *SQLStore) SetApproved(ctx context.Context, identifier string, verifier common.Address) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vote_submissions SET approved = $1, verifier = $2 WHERE proposal = $3`,
		true, verifier.Hex(), identifier)
	if err != nil {
		return fmt.Errorf("store: approve submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: approve submission: %w", err)
	}
	if n == 0 {
		return contracts.ErrNoSubmission
	}
	return nil
}

func (s *SQLStore) LoadRoles(ctx context.Context, scope string) (contracts.Roles, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM roles WHERE scope = $1`, scope).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Roles{}, false, nil
	}
	if err != nil {
		return contracts.Roles{}, false, fmt.Errorf("store: load roles: %w", err)
	}
	var r contracts.Roles
	if err := json.Unmarshal([]byte(state), &r); err != nil {
		return contracts.Roles{}, false, fmt.Errorf("store: decode roles %q: %w", scope, err)
	}
	return r, true, nil
}

func (s *SQLStore) SaveRoles(ctx context.Context, scope string, roles contracts.Roles) error {
	state, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("store: encode roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO roles (scope, state, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (scope) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		scope, string(state), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store: save roles: %w", err)
	}
	return nil
}

// Submissions exposes the SubmissionStore view of s. Get on SQLStore itself
// resolves proposals.
func (s *SQLStore) Submissions() SubmissionStore {
	return sqlSubmissions{s}
}

type sqlSubmissions struct{ *SQLStore }

func (v sqlSubmissions) Get(ctx context.Context, identifier string) (*contracts.VoteSubmission, error) {
	return v.GetSubmission(ctx, identifier)
}
