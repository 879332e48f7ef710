package coverage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/coverage.report/internal/geogrid"
)

const (
	redisReceivedFlag = "r"
	redisMissingFlag  = "m"
)

// RedisStore keeps one hash per source with a received and a missing field
// per cell, so concurrent writers only ever issue HINCRBY. Keys are scoped
// to the grid fingerprint: coverage:<fingerprint>:cells:<source>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedisStore connects to addr and checks the connection.
func OpenRedisStore(ctx context.Context, addr string, g *geogrid.Grid) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisStore(client, g), nil
}

// NewRedisStore wraps an existing client. The store owns it from then on.
func NewRedisStore(client *redis.Client, g *geogrid.Grid) *RedisStore {
	return &RedisStore{client: client, prefix: redisPrefix(g)}
}

func redisPrefix(g *geogrid.Grid) string { return "coverage:" + g.Fingerprint() + ":" }

func (s *RedisStore) sourcesKey() string            { return s.prefix + "sources" }
func (s *RedisStore) cellsKey(source string) string { return s.prefix + "cells:" + source }

func redisField(cellID int, flag string) string {
	return strconv.Itoa(cellID) + ":" + flag
}

// parseCellHash rebuilds cell counters from the fields of a source hash.
func parseCellHash(h map[string]string) (map[int]CellStats, error) {
	out := make(map[int]CellStats, len(h)/2)
	for field, value := range h {
		idPart, flag, ok := strings.Cut(field, ":")
		if !ok {
			return nil, fmt.Errorf("malformed cell field %q", field)
		}
		id, err := strconv.Atoi(idPart)
		if err != nil {
			return nil, fmt.Errorf("malformed cell id in %q: %w", field, err)
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed counter %s=%q: %w", field, value, err)
		}
		c := out[id]
		switch flag {
		case redisReceivedFlag:
			c.Received = n
		case redisMissingFlag:
			c.Missing = n
		default:
			return nil, fmt.Errorf("unknown cell counter %q", field)
		}
		out[id] = c
	}
	return out, nil
}

func (s *RedisStore) Add(ctx context.Context, source string, cellID int, received, missing int64) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		key := s.cellsKey(source)
		if received != 0 {
			p.HIncrBy(ctx, key, redisField(cellID, redisReceivedFlag), received)
		}
		if missing != 0 {
			p.HIncrBy(ctx, key, redisField(cellID, redisMissingFlag), missing)
		}
		p.SAdd(ctx, s.sourcesKey(), source)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis add %s/%d: %w", source, cellID, err)
	}
	return nil
}

func (s *RedisStore) Cells(ctx context.Context, source string) (map[int]CellStats, error) {
	h, err := s.client.HGetAll(ctx, s.cellsKey(source)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cells %s: %w", source, err)
	}
	if len(h) == 0 {
		return nil, ErrUnknownSource
	}
	return parseCellHash(h)
}

func (s *RedisStore) Sources(ctx context.Context) ([]string, error) {
	sources, err := s.client.SMembers(ctx, s.sourcesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sources: %w", err)
	}
	sort.Strings(sources)
	return sources, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
