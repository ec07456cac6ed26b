package compression

import (
	"bytes"
	"fmt"
)

// blob header: 4 magic bytes then one algorithm byte
var magic = []byte("GCZ1")

var algorithmCodes = map[Algorithm]byte{
	None:   0,
	Gzip:   1,
	Snappy: 2,
	LZ4:    3,
	Zstd:   4,
	S2:     5,
}

// Seal compresses data and prefixes a header naming the algorithm.
func Seal(alg Algorithm, level Level, data []byte) ([]byte, error) {
	code, ok := algorithmCodes[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
	comp, err := NewCompressor(&Config{Algorithm: alg, Level: level})
	if err != nil {
		return nil, err
	}
	payload, err := comp.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", alg, err)
	}

	out := make([]byte, 0, len(magic)+1+len(payload))
	out = append(out, magic...)
	out = append(out, code)
	return append(out, payload...), nil
}

// Open decodes a blob produced by Seal.
func Open(blob []byte) ([]byte, error) {
	alg, err := Detect(blob)
	if err != nil {
		return nil, err
	}
	comp, err := NewCompressor(&Config{Algorithm: alg, Level: Default})
	if err != nil {
		return nil, err
	}
	data, err := comp.Decompress(blob[len(magic)+1:])
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", alg, err)
	}
	return data, nil
}

// Detect returns the algorithm recorded in a sealed blob header.
func Detect(blob []byte) (Algorithm, error) {
	if len(blob) < len(magic)+1 || !bytes.Equal(blob[:len(magic)], magic) {
		return "", fmt.Errorf("not a sealed blob")
	}
	for alg, code := range algorithmCodes {
		if code == blob[len(magic)] {
			return alg, nil
		}
	}
	return "", fmt.Errorf("unknown algorithm code %d", blob[len(magic)])
}
