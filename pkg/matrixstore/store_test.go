package matrixstore

import (
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matrix(t *testing.T, n int) (*columnar.Frame, []float32) {
	t.Helper()
	ids := make([]int16, n)
	temp := make([]float32, n)
	y := make([]float32, n)
	for i := range ids {
		ids[i] = int16(i)
		temp[i] = float32(i) / 2
		y[i] = float32(i) * 3
	}
	x := testutil.Frame(t, []string{"building_id", "air_temperature"},
		columnar.NewNumericColumn(ids),
		columnar.NewNumericColumn(temp),
	)
	return x, y
}

func TestDatasetRoundTripAcrossParts(t *testing.T) {
	s, err := OpenInMemory(testutil.TestLogger(t), WithPartRows(4))
	require.NoError(t, err)
	defer s.Close()

	x, y := matrix(t, 10)
	require.NoError(t, s.PutDataset(x, y))

	m, err := s.Manifest(KeyFeatures)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Parts)
	assert.Equal(t, 10, m.Rows)
	assert.Equal(t, []string{"building_id", "air_temperature"}, m.Columns)

	gotX, gotY, err := s.Dataset()
	require.NoError(t, err)
	assert.Equal(t, y, gotY)
	assert.Equal(t, x.Names(), gotX.Names())
	assert.Equal(t, x.Types(), gotX.Types())
	col, _ := gotX.Column("air_temperature")
	assert.Equal(t, 4.5, col.Float64(9))
}

func TestCodecs(t *testing.T) {
	for _, codec := range []string{CodecParquet, "lz4", "zstd", "s2", "snappy", "gzip", "none"} {
		t.Run(codec, func(t *testing.T) {
			s, err := OpenInMemory(testutil.TestLogger(t), WithPartRows(3), WithCodec(codec))
			require.NoError(t, err)
			defer s.Close()

			x, y := matrix(t, 7)
			require.NoError(t, s.PutDataset(x, y))

			m, err := s.Manifest(KeyFeatures)
			require.NoError(t, err)
			assert.Equal(t, codec, m.Codec)
			assert.Equal(t, 3, m.Parts)

			gotX, gotY, err := s.Dataset()
			require.NoError(t, err)
			assert.Equal(t, y, gotY)
			assert.Equal(t, x.Types(), gotX.Types())
			for i := 0; i < x.Len(); i++ {
				assert.Equal(t, x.Row(i), gotX.Row(i))
			}
		})
	}
}

func TestDefaultCodecIsLZ4(t *testing.T) {
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	defer s.Close()

	x, y := matrix(t, 2)
	require.NoError(t, s.PutDataset(x, y))
	m, err := s.Manifest(KeyTarget)
	require.NoError(t, err)
	assert.Equal(t, "lz4", m.Codec)
}

func TestUnknownCodec(t *testing.T) {
	_, err := OpenInMemory(nil, WithCodec("brotli"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPutFrameReplaces(t *testing.T) {
	s, err := OpenInMemory(testutil.TestLogger(t), WithPartRows(2))
	require.NoError(t, err)
	defer s.Close()

	x, _ := matrix(t, 6)
	_, err = s.PutFrame(KeyFeatures, x)
	require.NoError(t, err)

	small, _ := matrix(t, 1)
	m, err := s.PutFrame(KeyFeatures, small)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Parts)

	got, err := s.GetFrame(KeyFeatures)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestMissingKey(t *testing.T) {
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Dataset()
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Contains(t, err.Error(), "run preprocessing first")
}

func TestPutDatasetLengthMismatch(t *testing.T) {
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	defer s.Close()

	x, _ := matrix(t, 3)
	err = s.PutDataset(x, []float32{1})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPersistentStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "matrices")
	s, err := Open(dir, testutil.TestLogger(t))
	require.NoError(t, err)
	x, y := matrix(t, 5)
	require.NoError(t, s.PutDataset(x, y))
	require.NoError(t, s.Close())

	s, err = Open(dir, testutil.TestLogger(t))
	require.NoError(t, err)
	defer s.Close()
	_, gotY, err := s.Dataset()
	require.NoError(t, err)
	assert.Equal(t, y, gotY)

	_, err = Open("", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
