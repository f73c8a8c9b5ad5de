package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codeassess/internal/common/cache"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	recordKeyPrefix = "grading:record:"
	recentIndexKey  = "grading:recent"

	DefaultRecordTTL         = 24 * time.Hour
	DefaultCompressThreshold = 4 << 10
	DefaultRecentLimit       = 1000

	// Stored payloads start with one of these markers.
	payloadPlain byte = 0
	payloadZstd  byte = 1

	maxDecodedRecord = 64 << 20
)

// RecordConfig tunes the record store.
type RecordConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// CompressThreshold is the JSON size above which payloads are zstd-compressed.
	CompressThreshold int `yaml:"compressThreshold"`
	// RecentLimit caps the recent-records index.
	RecentLimit int `yaml:"recentLimit"`
}

// RecordRepository stores grading records in the cache.
type RecordRepository struct {
	cache   cache.Cache
	cfg     RecordConfig
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	now     func() time.Time
}

// NewRecordRepository creates a repository. Zero config fields take defaults.
func NewRecordRepository(cacheClient cache.Cache, cfg RecordConfig) (*RecordRepository, error) {
	if cacheClient == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRecordTTL
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedRecord))
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &RecordRepository{
		cache:   cacheClient,
		cfg:     cfg,
		encoder: encoder,
		decoder: decoder,
		now:     time.Now,
	}, nil
}

// Close releases the codec resources.
func (r *RecordRepository) Close() error {
	r.decoder.Close()
	return r.encoder.Close()
}

// Get returns the record for a submission.
func (r *RecordRepository) Get(ctx context.Context, submissionID string) (*GradingRecord, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	val, err := r.cache.Get(ctx, recordKeyPrefix+submissionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load grading record failed")
	}
	if val == "" {
		return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("grading record not found")
	}
	return r.decode([]byte(val))
}

// Save stores the record and indexes it among the recent records.
func (r *RecordRepository) Save(ctx context.Context, record *GradingRecord) error {
	if record == nil || record.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	now := r.now()
	if record.CreatedAt == 0 {
		record.CreatedAt = now.Unix()
	}
	record.UpdatedAt = now.Unix()

	payload, err := r.encode(record)
	if err != nil {
		return err
	}
	err = r.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		if err := pipe.Set(recordKeyPrefix+record.SubmissionID, payload, r.cfg.TTL); err != nil {
			return err
		}
		if err := pipe.ZAdd(recentIndexKey, cache.ZMember{Score: float64(now.UnixMilli()), Member: record.SubmissionID}); err != nil {
			return err
		}
		if err := pipe.ZRemRangeByRank(recentIndexKey, 0, -int64(r.cfg.RecentLimit)-1); err != nil {
			return err
		}
		return pipe.Expire(recentIndexKey, r.cfg.TTL)
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store grading record failed")
	}
	return nil
}

// Recent returns up to limit records, newest first. Index entries whose
// record has expired are skipped and pruned from the index.
func (r *RecordRepository) Recent(ctx context.Context, limit int) ([]*GradingRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.cache.ZRevRange(ctx, recentIndexKey, 0, int64(limit)-1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load recent grading records failed")
	}
	out := make([]*GradingRecord, 0, len(ids))
	var expired []string
	for _, id := range ids {
		record, err := r.Get(ctx, id)
		if appErr.Is(err, appErr.SubmissionNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if len(expired) > 0 {
		if err := r.cache.ZRem(ctx, recentIndexKey, expired...); err != nil {
			logger.Warn(ctx, "prune recent grading index failed", zap.Int("expired", len(expired)), zap.Error(err))
		}
	}
	return out, nil
}

func (r *RecordRepository) encode(record *GradingRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal grading record failed: %w", err)
	}
	if len(data) <= r.cfg.CompressThreshold {
		return append([]byte{payloadPlain}, data...), nil
	}
	out := make([]byte, 1, len(data)/2)
	out[0] = payloadZstd
	return r.encoder.EncodeAll(data, out), nil
}

func (r *RecordRepository) decode(payload []byte) (*GradingRecord, error) {
	if len(payload) == 0 {
		return nil, appErr.New(appErr.CacheError).WithMessage("grading record payload is empty")
	}
	data := payload[1:]
	switch payload[0] {
	case payloadPlain:
	case payloadZstd:
		decoded, err := r.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.CacheError, "decompress grading record failed")
		}
		data = decoded
	default:
		return nil, appErr.Newf(appErr.CacheError, "unknown grading record encoding %d", payload[0])
	}
	var record GradingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode grading record failed")
	}
	return &record, nil
}
