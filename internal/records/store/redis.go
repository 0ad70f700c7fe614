package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"archivegate/internal/records"
)

const (
	indexKeyPrefix = "records:index:"
	dataKeyPrefix  = "records:data:"
	idsKeyPrefix   = "records:ids:"
	scanBatch      = 200
)

// putScript stores a record only when its id is new to the dataset.
// KEYS: ids hash, data hash, index zset. ARGV: id, sort key member, body.
var putScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
redis.call('ZADD', KEYS[3], 0, ARGV[2])
return 1
`)

// RedisStore keeps a lexicographic sorted-set index per dataset (members are
// SortKey.Lex(), all scores zero), the record bodies in a hash and an
// id → member hash that makes Put first-write-wins.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, r records.Record) error {
	r.FetchedAt = r.FetchedAt.UTC()
	body, err := json.Marshal(toStored(r))
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", r.ID, err)
	}
	keys := []string{idsKeyPrefix + r.Dataset, dataKeyPrefix + r.Dataset, indexKeyPrefix + r.Dataset}
	if err := putScript.Run(ctx, s.client, keys, r.ID, r.SortKey().Lex(), body).Err(); err != nil {
		return fmt.Errorf("store record %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, dataset string, after *records.SortKey, fn func(records.Record) (bool, error)) error {
	min := "-"
	if after != nil {
		min = "(" + after.Lex()
	}
	for {
		members, err := s.client.ZRangeByLex(ctx, indexKeyPrefix+dataset, &redis.ZRangeBy{
			Min:   min,
			Max:   "+",
			Count: scanBatch,
		}).Result()
		if err != nil {
			return fmt.Errorf("scan index %s: %w", dataset, err)
		}
		if len(members) == 0 {
			return nil
		}
		bodies, err := s.client.HMGet(ctx, dataKeyPrefix+dataset, members...).Result()
		if err != nil {
			return fmt.Errorf("load records %s: %w", dataset, err)
		}
		for i, raw := range bodies {
			str, ok := raw.(string)
			if !ok {
				// Index entry without body; the writer's transaction makes this transient.
				continue
			}
			var sr storedRecord
			if err := json.Unmarshal([]byte(str), &sr); err != nil {
				return fmt.Errorf("decode record %s: %w", members[i], err)
			}
			more, err := fn(sr.toRecord())
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		if len(members) < scanBatch {
			return nil
		}
		min = "(" + members[len(members)-1]
	}
}

// storedRecord is the tagged wire form. The natural JSON of records.Value
// loses the time kind, so values are stored with an explicit kind.
type storedRecord struct {
	ID           string        `json:"id"`
	Dataset      string        `json:"dataset"`
	SourceAgency string        `json:"source_agency"`
	FetchedAt    time.Time     `json:"fetched_at"`
	Fields       []storedField `json:"fields"`
}

type storedField struct {
	Name  string      `json:"n"`
	Value storedValue `json:"v"`
}

type storedValue struct {
	Kind  records.Kind  `json:"k"`
	Str   string        `json:"s,omitempty"`
	Int   int64         `json:"i,omitempty"`
	Float float64       `json:"f,omitempty"`
	Bool  bool          `json:"b,omitempty"`
	Time  *time.Time    `json:"t,omitempty"`
	List  []storedValue `json:"l,omitempty"`
}

func toStored(r records.Record) storedRecord {
	out := storedRecord{ID: r.ID, Dataset: r.Dataset, SourceAgency: r.SourceAgency, FetchedAt: r.FetchedAt}
	for _, f := range r.Fields {
		out.Fields = append(out.Fields, storedField{Name: f.Name, Value: toStoredValue(f.Value)})
	}
	return out
}

func toStoredValue(v records.Value) storedValue {
	sv := storedValue{Kind: v.Kind, Str: v.Str, Int: v.Int, Float: v.Float, Bool: v.Bool}
	if v.Kind == records.KindTime {
		t := v.Time
		sv.Time = &t
	}
	for _, item := range v.List {
		sv.List = append(sv.List, toStoredValue(item))
	}
	return sv
}

func (sr storedRecord) toRecord() records.Record {
	out := records.Record{ID: sr.ID, Dataset: sr.Dataset, SourceAgency: sr.SourceAgency, FetchedAt: sr.FetchedAt.UTC()}
	for _, f := range sr.Fields {
		out.Fields = append(out.Fields, records.Field{Name: f.Name, Value: f.Value.toValue()})
	}
	return out
}

func (sv storedValue) toValue() records.Value {
	v := records.Value{Kind: sv.Kind, Str: sv.Str, Int: sv.Int, Float: sv.Float, Bool: sv.Bool}
	if sv.Time != nil {
		v.Time = sv.Time.UTC()
	}
	if sv.Kind == records.KindList {
		v.List = make([]records.Value, 0, len(sv.List))
		for _, item := range sv.List {
			v.List = append(v.List, item.toValue())
		}
	}
	return v
}
