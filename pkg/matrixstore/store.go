// Package matrixstore keeps the prepared training matrices between the
// preprocessing and training stages. Frames are stored as parts in an
// embedded badger database under a named key, with a JSON manifest. A part
// is either a Parquet file or a native frame blob compressed with one of the
// pkg/compression algorithms.
package matrixstore

import (
	"fmt"
	"os"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/compression"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/features"
	"github.com/ajitpratap0/gridcast/pkg/formats/parquet"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	// KeyFeatures holds the aligned feature matrix.
	KeyFeatures = "X"
	// KeyTarget holds the log1p target.
	KeyTarget = "y"

	// DefaultPartRows bounds the rows encoded into one value.
	DefaultPartRows = 1 << 20

	// CodecParquet stores parts as Parquet files.
	CodecParquet = "parquet"
	// DefaultCodec favours decode speed; the matrix is read once per run.
	DefaultCodec = string(compression.LZ4)
)

// ValidateCodec reports whether name is a usable part codec: "parquet" or a
// compression algorithm name.
func ValidateCodec(name string) error {
	if name == CodecParquet {
		return nil
	}
	if _, err := compression.ParseAlgorithm(name); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid matrix codec").WithDetail("codec", name)
	}
	return nil
}

// Manifest describes a stored frame.
type Manifest struct {
	Key      string    `json:"key"`
	Rows     int       `json:"rows"`
	Parts    int       `json:"parts"`
	Codec    string    `json:"codec"`
	Columns  []string  `json:"columns"`
	Bytes    int64     `json:"bytes"`
	StoredAt time.Time `json:"stored_at"`
}

// Store wraps a badger database.
type Store struct {
	db       *badger.DB
	partRows int
	codec    string
	parquet  parquet.Options
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPartRows sets the rows per stored part.
func WithPartRows(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.partRows = n
		}
	}
}

// WithCodec selects the part encoding for new frames. Stored frames are
// always read with the codec recorded in their manifest.
func WithCodec(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.codec = name
		}
	}
}

// Open opens (creating if needed) a store at path.
func Open(path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "matrix store path is required")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "create matrix store directory").WithDetail("path", path)
	}
	return open(badger.DefaultOptions(path), logger, opts...)
}

// OpenInMemory opens a store without disk persistence.
func OpenInMemory(logger *zap.Logger, opts ...Option) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger, opts...)
}

func open(bopts badger.Options, logger *zap.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "matrix_store"))
	bopts = bopts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger.Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "open matrix store")
	}
	s := &Store{
		db:       db,
		partRows: DefaultPartRows,
		codec:    DefaultCodec,
		parquet:  parquet.DefaultOptions(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := ValidateCodec(s.codec); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func manifestKey(key string) []byte { return []byte("frame/" + key + "/manifest") }

func partKey(key string, i int) []byte { return []byte(fmt.Sprintf("frame/%s/part/%06d", key, i)) }

// PutFrame replaces the frame stored under key.
func (s *Store) PutFrame(key string, f *columnar.Frame) (*Manifest, error) {
	m := &Manifest{Key: key, Rows: f.Len(), Columns: f.Names(), Codec: s.codec, StoredAt: time.Now().UTC()}

	n := (f.Len() + s.partRows - 1) / s.partRows
	if n == 0 {
		n = 1
	}
	parts := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		lo, hi := i*s.partRows, (i+1)*s.partRows
		if hi > f.Len() {
			hi = f.Len()
		}
		blob, err := s.encodePart(f.Slice(lo, hi))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "encode matrix part").WithDetail("key", key)
		}
		parts = append(parts, blob)
		m.Bytes += int64(len(blob))
	}
	m.Parts = len(parts)

	if err := s.Delete(key); err != nil {
		return nil, err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, blob := range parts {
		if err := wb.Set(partKey(key, i), blob); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "write matrix part").WithDetail("key", key)
		}
	}
	meta, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode manifest")
	}
	if err := wb.Set(manifestKey(key), meta); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "write manifest").WithDetail("key", key)
	}
	if err := wb.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "flush matrix store").WithDetail("key", key)
	}

	s.logger.Info("frame stored",
		zap.String("key", key),
		zap.Int("rows", m.Rows),
		zap.Int("parts", m.Parts),
		zap.String("codec", m.Codec),
		zap.Int64("bytes", m.Bytes))
	return m, nil
}

// Manifest returns the manifest of key.
func (s *Store) Manifest(key string) (*Manifest, error) {
	var m Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &m) })
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no frame stored under %q; run preprocessing first", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "read manifest").WithDetail("key", key)
	}
	return &m, nil
}

// GetFrame loads the frame stored under key.
func (s *Store) GetFrame(key string) (*columnar.Frame, error) {
	m, err := s.Manifest(key)
	if err != nil {
		return nil, err
	}
	frames := make([]*columnar.Frame, 0, m.Parts)
	err = s.db.View(func(txn *badger.Txn) error {
		for i := 0; i < m.Parts; i++ {
			item, err := txn.Get(partKey(key, i))
			if err != nil {
				return err
			}
			blob, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			part, err := decodePart(m.Codec, blob)
			if err != nil {
				return err
			}
			frames = append(frames, part)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "read matrix parts").WithDetail("key", key)
	}
	if len(frames) == 1 {
		return frames[0], nil
	}
	f, err := columnar.Concat(frames...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "join matrix parts").WithDetail("key", key)
	}
	return f, nil
}

func (s *Store) encodePart(f *columnar.Frame) ([]byte, error) {
	if s.codec == CodecParquet {
		return parquet.Encode(f, s.parquet)
	}
	alg, err := compression.ParseAlgorithm(s.codec)
	if err != nil {
		return nil, err
	}
	return columnar.EncodeFrame(f, alg)
}

// decodePart reads a part; manifests without a codec predate native blobs.
func decodePart(codec string, blob []byte) (*columnar.Frame, error) {
	if codec == "" || codec == CodecParquet {
		return parquet.Decode(blob)
	}
	return columnar.DecodeFrame(blob)
}

// Delete removes key and its parts.
func (s *Store) Delete(key string) error {
	prefix := []byte("frame/" + key + "/")
	if err := s.db.DropPrefix(prefix); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "drop stored frame").WithDetail("key", key)
	}
	return nil
}

// PutDataset stores the feature matrix and target.
func (s *Store) PutDataset(x *columnar.Frame, y []float32) error {
	if x.Len() != len(y) {
		return errors.Newf(errors.ErrorTypeValidation, "feature rows (%d) and target rows (%d) differ", x.Len(), len(y))
	}
	if _, err := s.PutFrame(KeyFeatures, x); err != nil {
		return err
	}
	_, err := s.PutFrame(KeyTarget, features.TargetFrame(y))
	return err
}

// Dataset loads the feature matrix and target.
func (s *Store) Dataset() (*columnar.Frame, []float32, error) {
	x, err := s.GetFrame(KeyFeatures)
	if err != nil {
		return nil, nil, err
	}
	yf, err := s.GetFrame(KeyTarget)
	if err != nil {
		return nil, nil, err
	}
	y, err := features.TargetFromFrame(yf)
	if err != nil {
		return nil, nil, err
	}
	if len(y) != x.Len() {
		return nil, nil, errors.Newf(errors.ErrorTypeData, "stored features (%d rows) and target (%d rows) differ", x.Len(), len(y))
	}
	return x, y, nil
}

// badgerLogger routes badger's logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
