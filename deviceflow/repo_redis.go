package deviceflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
)

const (
	ticketKeyPrefix   = "deviceflow:ticket:"
	userCodeKeyPrefix = "deviceflow:usercode:"
	grantKeyPrefix    = "deviceflow:grant:"

	// Expired and consumed tickets are kept around briefly so that a late
	// poll reports a proper replay/expired error instead of "not found."
	ticketRetention = time.Hour
)

var (
	_ Repo      = (*RedisRepo)(nil)
	_ GrantRepo = (*RedisGrantRepo)(nil)
)

// RedisRepo stores tickets in Redis so multiple backend instances see the
// same state. Status transitions use WATCH-based optimistic transactions:
// when a concurrent writer touches the ticket between read and write the
// transaction aborts and the transition reports a conflict.
type RedisRepo struct {
	client  *redis.Client
	nowTime func() time.Time
}

// NewRedisRepo creates a Redis-backed ticket repository.
func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client, nowTime: time.Now}
}

func (r *RedisRepo) ticketTTL(ticket *Ticket) time.Duration {
	ttl := time.Until(ticket.ExpiresAt) + ticketRetention
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func (r *RedisRepo) Create(ctx context.Context, ticket *Ticket) error {
	data, err := json.Marshal(ticket)
	if err != nil {
		return errors.Wrap(err, "[RedisRepo.Create] marshal")
	}

	ttl := r.ticketTTL(ticket)
	ok, err := r.client.SetNX(ctx, ticketKeyPrefix+ticket.DeviceCode, data, ttl).Result()
	if err != nil {
		return errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	if !ok {
		return errors.Wrap(autherrors.ErrInternal, "device code collision")
	}
	if err := r.client.Set(ctx, userCodeKeyPrefix+NormalizeUserCode(ticket.UserCode), ticket.DeviceCode, ttl).Err(); err != nil {
		return errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	return nil
}

func (r *RedisRepo) GetByDeviceCode(ctx context.Context, deviceCode string) (*Ticket, error) {
	data, err := r.client.Get(ctx, ticketKeyPrefix+deviceCode).Bytes()
	if err == redis.Nil {
		return nil, autherrors.ErrTicketNotFound
	}
	if err != nil {
		return nil, errors.Wrap(autherrors.ErrStorage, err.Error())
	}

	var ticket Ticket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return nil, errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	return &ticket, nil
}

func (r *RedisRepo) GetByUserCode(ctx context.Context, userCode string) (*Ticket, error) {
	deviceCode, err := r.client.Get(ctx, userCodeKeyPrefix+NormalizeUserCode(userCode)).Result()
	if err == redis.Nil {
		return nil, autherrors.ErrTicketNotFound
	}
	if err != nil {
		return nil, errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	return r.GetByDeviceCode(ctx, deviceCode)
}

func (r *RedisRepo) UpdateStatus(ctx context.Context, deviceCode string, from, to Status, mutate func(*Ticket)) (*Ticket, error) {
	key := ticketKeyPrefix + deviceCode
	var updated *Ticket

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return autherrors.ErrTicketNotFound
		}
		if err != nil {
			return errors.Wrap(autherrors.ErrStorage, err.Error())
		}

		var ticket Ticket
		if err := json.Unmarshal(data, &ticket); err != nil {
			return errors.Wrap(autherrors.ErrStorage, err.Error())
		}
		if ticket.Status != from {
			return ErrStatusConflict
		}

		ticket.Status = to
		if mutate != nil {
			mutate(&ticket)
		}
		newData, err := json.Marshal(&ticket)
		if err != nil {
			return errors.Wrap(err, "[RedisRepo.UpdateStatus] marshal")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, r.ticketTTL(&ticket))
			return nil
		})
		if err != nil {
			return err
		}
		updated = &ticket
		return nil
	}

	err := r.client.Watch(ctx, txn, key)
	if err == redis.TxFailedErr {
		// Another writer moved the ticket first; by monotonicity the
		// expected "from" state is gone.
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteExpired is a no-op for Redis: every key is written with a TTL that
// covers expiry plus the retention window, so Redis garbage-collects
// tickets itself.
func (r *RedisRepo) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// RedisGrantRepo stores upstream grants keyed by user.
type RedisGrantRepo struct {
	client *redis.Client
	expiry time.Duration
}

// NewRedisGrantRepo creates a Redis-backed grant repository. Grants live as
// long as the refresh tokens that reference them.
func NewRedisGrantRepo(client *redis.Client, expiry time.Duration) *RedisGrantRepo {
	return &RedisGrantRepo{client: client, expiry: expiry}
}

func (r *RedisGrantRepo) Upsert(ctx context.Context, grant *UpstreamGrant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return errors.Wrap(err, "[RedisGrantRepo.Upsert] marshal")
	}
	if err := r.client.Set(ctx, grantKeyPrefix+grant.UserID, data, r.expiry).Err(); err != nil {
		return errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	return nil
}

func (r *RedisGrantRepo) GetByUserID(ctx context.Context, userID string) (*UpstreamGrant, error) {
	data, err := r.client.Get(ctx, grantKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, autherrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(autherrors.ErrStorage, err.Error())
	}

	var grant UpstreamGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	return &grant, nil
}
