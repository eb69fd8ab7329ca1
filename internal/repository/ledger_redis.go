package repository

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"promptmeter/internal/model"
)

var (
	//go:embed scripts/create.lua
	createLuaScript string
	//go:embed scripts/debit.lua
	debitLuaScript string
	//go:embed scripts/credit.lua
	creditLuaScript string

	createScript = redis.NewScript(createLuaScript)
	debitScript  = redis.NewScript(debitLuaScript)
	creditScript = redis.NewScript(creditLuaScript)
)

const (
	luaApplied        = 1
	luaInsufficient   = 0
	luaUnknownAccount = -1
)

// RedisLedgerRepo keeps one hash per account and mutates it only through Lua
// scripts, so every conditional update runs atomically on the server.
type RedisLedgerRepo struct {
	rdb            *redis.Client
	bus            MessageBus
	defaultBalance int64
}

func NewRedisLedgerRepo(rdb *redis.Client, bus MessageBus, defaultBalance int64) *RedisLedgerRepo {
	if bus == nil {
		bus = NopBus{}
	}
	return &RedisLedgerRepo{
		rdb:            rdb,
		bus:            bus,
		defaultBalance: defaultBalance,
	}
}

// accountFields is the field order of create.lua's HMGET reply.
var accountFields = []string{"balance", "total_requests", "username", "first_name", "last_name", "created_at", "updated_at"}

func accountKey(userID int64) string {
	return fmt.Sprintf("account:%d", userID)
}

func (r *RedisLedgerRepo) GetOrCreate(ctx context.Context, userID int64, profile model.Profile) (*model.UserAccount, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := createScript.Run(ctx, r.rdb, []string{accountKey(userID)},
		r.defaultBalance, profile.Username, profile.FirstName, profile.LastName, now).Slice()
	if err != nil {
		return nil, unavailable("create script", err)
	}

	acc, err := parseAccount(userID, res)
	if err != nil {
		return nil, unavailable("parse account", err)
	}
	return acc, nil
}

func (r *RedisLedgerRepo) Get(ctx context.Context, userID int64) (*model.UserAccount, error) {
	res, err := r.rdb.HMGet(ctx, accountKey(userID), accountFields...).Result()
	if err != nil {
		return nil, unavailable("hmget", err)
	}
	if len(res) == 0 || res[0] == nil {
		return nil, model.ErrAccountNotFound
	}

	acc, err := parseAccount(userID, res)
	if err != nil {
		return nil, unavailable("parse account", err)
	}
	return acc, nil
}

func (r *RedisLedgerRepo) TryDebit(ctx context.Context, userID int64, amount int64) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, model.ErrInvalidAmount
	}

	status, balance, err := r.run(ctx, debitScript, userID, amount)
	if err != nil {
		return 0, false, unavailable("debit script", err)
	}

	switch status {
	case luaApplied:
		publishEntry(r.bus, userID, model.EntryDebit, amount, balance)
		return balance, true, nil
	case luaInsufficient, luaUnknownAccount:
		return 0, false, nil
	default:
		return 0, false, unavailable("debit script", fmt.Errorf("unknown status from Lua: %d", status))
	}
}

func (r *RedisLedgerRepo) Credit(ctx context.Context, userID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, model.ErrInvalidAmount
	}

	status, balance, err := r.run(ctx, creditScript, userID, amount)
	if err != nil {
		return 0, unavailable("credit script", err)
	}

	switch status {
	case luaApplied:
		publishEntry(r.bus, userID, model.EntryCredit, amount, balance)
		return balance, nil
	case luaUnknownAccount:
		return 0, model.ErrAccountNotFound
	default:
		return 0, unavailable("credit script", fmt.Errorf("unknown status from Lua: %d", status))
	}
}

func (r *RedisLedgerRepo) run(ctx context.Context, script *redis.Script, userID, amount int64) (int64, int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := script.Run(ctx, r.rdb, []string{accountKey(userID)}, amount, now).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) < 2 {
		return 0, 0, fmt.Errorf("unexpected response format from Redis: %v", res)
	}
	return res[0], res[1], nil
}

// parseAccount decodes the HMGET reply of create.lua.
func parseAccount(userID int64, res []interface{}) (*model.UserAccount, error) {
	if len(res) != 7 {
		return nil, fmt.Errorf("unexpected response format from Redis: %d fields", len(res))
	}

	fields := make([]string, len(res))
	for i, v := range res {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %d: unexpected type %T", i, v)
		}
		fields[i] = s
	}

	balance, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	total, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("total_requests: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields[5])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields[6])
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}

	return &model.UserAccount{
		UserID:        userID,
		Username:      fields[2],
		FirstName:     fields[3],
		LastName:      fields[4],
		Balance:       balance,
		TotalRequests: total,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}
