package archive

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/tenantbackup/internal/backup"
)

func payloads() map[string][]byte {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 3<<20)
	rng.Read(random)
	return map[string][]byte{
		"empty":      {},
		"single":     {0x00},
		"text":       []byte(`{"tenant_id":"t1","collections":{}}`),
		"repetitive": bytes.Repeat([]byte("INSERT INTO patients VALUES (1);\n"), 50_000),
		"random":     random,
		"magicLike":  {0x1f, 0x8b, 0x28, 0xb5, 0x2f, 0xfd},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{Gzip, Zstd} {
		codec := New(format)
		for name, p := range payloads() {
			t.Run(string(format)+"/"+name, func(t *testing.T) {
				compressed, err := codec.Compress(p)
				require.NoError(t, err)

				out, err := codec.Decompress(compressed)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(p, out))
			})
		}
	}
}

func TestCompressStream_MatchesCompress(t *testing.T) {
	codec := New(Gzip)
	src := bytes.Repeat([]byte("abc"), 100_000)

	var buf bytes.Buffer
	n, err := codec.CompressStream(&buf, bytes.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, int64(len(src)), n)

	out, err := Decompress(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestDecompress_Corrupt(t *testing.T) {
	good, err := New(Gzip).Compress([]byte("hello world, hello world"))
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not an archive"),
		"truncated": good[:len(good)/2],
		"gzipHead":  {0x1f, 0x8b},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decompress(data)
			assert.ErrorIs(t, err, backup.ErrCorruptArchive)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Gzip, f)
	assert.Equal(t, ".gz", f.Extension())

	f, err = ParseFormat("zstd")
	require.NoError(t, err)
	assert.Equal(t, ".zst", f.Extension())

	_, err = ParseFormat("lz4")
	assert.ErrorIs(t, err, backup.ErrConfiguration)
}
