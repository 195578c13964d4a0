package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
)

// DefaultArtifactPrefix 是产物 key 的默认前缀
const DefaultArtifactPrefix = "movierec:model"

// ArtifactStore 把模型快照（model.Snapshot）持久化到 KeyValueStore：
//
//	{prefix}:{model}:v{version}  -> zstd(json(snapshot))
//	{prefix}:latest              -> Hash{model: version}
//
// 写入顺序为 "先写快照、后改 latest 指针"，读者不会看到指向缺失快照的指针。
type ArtifactStore struct {
	kv     core.KeyValueStore
	prefix string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

func NewArtifactStore(kv core.KeyValueStore, prefix string) (*ArtifactStore, error) {
	if prefix == "" {
		prefix = DefaultArtifactPrefix
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{kv: kv, prefix: strings.TrimSuffix(prefix, ":"), enc: enc, dec: dec}, nil
}

// Key 返回某个版本快照的存储 key
func (s *ArtifactStore) Key(name string, version int) string {
	return fmt.Sprintf("%s:%s:v%d", s.prefix, name, version)
}

func (s *ArtifactStore) latestKey() string { return s.prefix + ":latest" }

// Save 写入快照并把 latest 指针指向该版本。
func (s *ArtifactStore) Save(ctx context.Context, snap *model.Snapshot, version int) error {
	if snap == nil || snap.Name == "" {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "store: empty snapshot")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode %s snapshot: %w", snap.Name, err)
	}
	if err := s.kv.Set(ctx, s.Key(snap.Name, version), s.enc.EncodeAll(raw, nil)); err != nil {
		return fmt.Errorf("store: save %s v%d: %w", snap.Name, version, err)
	}
	if err := s.kv.HSet(ctx, s.latestKey(), snap.Name, []byte(strconv.Itoa(version))); err != nil {
		return fmt.Errorf("store: update %s latest: %w", snap.Name, err)
	}
	return nil
}

// Load 读取指定版本的快照；version <= 0 表示 latest。
// 返回实际读取的版本号，不存在时返回 store NOT_FOUND。
func (s *ArtifactStore) Load(ctx context.Context, name string, version int) (*model.Snapshot, int, error) {
	if version <= 0 {
		v, err := s.Latest(ctx, name)
		if err != nil {
			return nil, 0, err
		}
		version = v
	}
	data, err := s.kv.Get(ctx, s.Key(name, version))
	if err != nil {
		return nil, 0, fmt.Errorf("store: load %s v%d: %w", name, version, err)
	}
	raw, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("store: decompress %s v%d: %w", name, version, err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, 0, fmt.Errorf("store: decode %s v%d: %w", name, version, err)
	}
	return &snap, version, nil
}

// Latest 返回模型最新持久化的版本号
func (s *ArtifactStore) Latest(ctx context.Context, name string) (int, error) {
	b, err := s.kv.HGet(ctx, s.latestKey(), name)
	if err != nil {
		return 0, fmt.Errorf("store: %s latest: %w", name, err)
	}
	v, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, fmt.Errorf("store: %s latest %q: %w", name, b, err)
	}
	return v, nil
}

// Versions 返回所有模型的最新版本号
func (s *ArtifactStore) Versions(ctx context.Context) (map[string]int, error) {
	all, err := s.kv.HGetAll(ctx, s.latestKey())
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(all))
	for name, b := range all {
		if v, err := strconv.Atoi(string(b)); err == nil {
			out[name] = v
		}
	}
	return out, nil
}

// Close 释放压缩器资源，不关闭底层存储。
func (s *ArtifactStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}
