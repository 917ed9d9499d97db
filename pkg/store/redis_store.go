package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements the stores over Redis. Proposals are SETNX'd JSON
// values indexed by a sorted set scored on initiation time; submissions are
// plain JSON values overwritten on resubmission.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store backed by the Redis server at addr.
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, prefix)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "votebridge"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) proposalKey(id common.Hash) string {
	return fmt.Sprintf("%s:proposal:%s", s.prefix, id.Hex())
}

func (s *RedisStore) proposalIndex() string { return s.prefix + ":proposals" }

func (s *RedisStore) submissionKey(identifier string) string {
	return fmt.Sprintf("%s:submission:%s", s.prefix, identifier)
}

func (s *RedisStore) rolesKey(scope string) string {
	return fmt.Sprintf("%s:roles:%s", s.prefix, scope)
}

func (s *RedisStore) Create(ctx context.Context, p contracts.Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode proposal: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.proposalKey(p.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("store: create proposal: %w", err)
	}
	if !ok {
		return contracts.ErrDuplicateProposal
	}
	err = s.client.ZAdd(ctx, s.proposalIndex(), redis.Z{
		Score:  float64(p.InitiatedAt.UnixNano()),
		Member: p.ID.Hex(),
	}).Err()
	if err != nil {
		return fmt.Errorf("store: index proposal: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id common.Hash) (*contracts.Proposal, error) {
	data, err := s.client.Get(ctx, s.proposalKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, contracts.ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get proposal: %w", err)
	}
	var p contracts.Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("store: decode proposal: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) List(ctx context.Context) ([]contracts.Proposal, error) {
	ids, err := s.client.ZRange(ctx, s.proposalIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list proposals: %w", err)
	}
	out := make([]contracts.Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, common.HexToHash(id))
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, sub contracts.VoteSubmission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("store: encode submission: %w", err)
	}
	if err := s.client.Set(ctx, s.submissionKey(sub.Proposal), data, 0).Err(); err != nil {
		return fmt.Errorf("store: put submission: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSubmission(ctx context.Context, identifier string) (*contracts.VoteSubmission, error) {
	data, err := s.client.Get(ctx, s.submissionKey(identifier)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, contracts.ErrNoSubmission
	}
	if err != nil {
		return nil, fmt.Errorf("store: get submission: %w", err)
	}
	var sub contracts.VoteSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("store: decode submission: %w", err)
	}
	return &sub, nil
}

// SetApproved rewrites the submission inside a WATCH transaction so a
// concurrent resubmission is never approved by accident.
func (s *RedisStore) SetApproved(ctx context.Context, identifier string, verifier common.Address) error {
	key := s.submissionKey(identifier)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return contracts.ErrNoSubmission
		}
		if err != nil {
			return fmt.Errorf("store: approve submission: %w", err)
		}
		var sub contracts.VoteSubmission
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("store: decode submission: %w", err)
		}
		sub.Approved = true
		sub.Verifier = verifier
		updated, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("store: encode submission: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) LoadRoles(ctx context.Context, scope string) (contracts.Roles, bool, error) {
	data, err := s.client.Get(ctx, s.rolesKey(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return contracts.Roles{}, false, nil
	}
	if err != nil {
		return contracts.Roles{}, false, fmt.Errorf("store: load roles: %w", err)
	}
	var r contracts.Roles
	if err := json.Unmarshal(data, &r); err != nil {
		return contracts.Roles{}, false, fmt.Errorf("store: decode roles %q: %w", scope, err)
	}
	return r, true, nil
}

func (s *RedisStore) SaveRoles(ctx context.Context, scope string, roles contracts.Roles) error {
	data, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("store: encode roles: %w", err)
	}
	if err := s.client.Set(ctx, s.rolesKey(scope), data, 0).Err(); err != nil {
		return fmt.Errorf("store: save roles: %w", err)
	}
	return nil
}

// Submissions exposes the SubmissionStore view of s.
func (s *RedisStore) Submissions() SubmissionStore {
	return redisSubmissions{s}
}

type redisSubmissions struct{ *RedisStore }

func (v redisSubmissions) Get(ctx context.Context, identifier string) (*contracts.VoteSubmission, error) {
	return v.GetSubmission(ctx, identifier)
}
