package semantic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// ErrNoVector is returned when none of a phrase's words are in the vocabulary.
var ErrNoVector = errors.New("semantic: phrase has no known words")

// WordVectors is an in-memory word-embedding table (GloVe text format: one word per
// line followed by its components). A phrase embeds as the mean of its known words.
type WordVectors struct {
	dim     int
	vectors map[string][]float64
}

// ReadWordVectors parses a word-vector table. Blank lines and lines starting with '#'
// are skipped; every vector must have the same dimension.
func ReadWordVectors(r io.Reader) (*WordVectors, error) {
	wv := &WordVectors{vectors: make(map[string][]float64)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("word vectors line %d: want a word and at least one component", line)
		}
		vec := make([]float64, len(fields)-1)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("word vectors line %d: %w", line, err)
			}
			vec[i] = v
		}
		if wv.dim == 0 {
			wv.dim = len(vec)
		} else if len(vec) != wv.dim {
			return nil, fmt.Errorf("word vectors line %d: dimension %d, want %d", line, len(vec), wv.dim)
		}
		wv.vectors[strings.ToLower(fields[0])] = vec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read word vectors: %w", err)
	}
	if len(wv.vectors) == 0 {
		return nil, errors.New("word vectors: empty table")
	}
	return wv, nil
}

// Dim returns the vector dimension.
func (wv *WordVectors) Dim() int { return wv.dim }

// Len returns the vocabulary size.
func (wv *WordVectors) Len() int { return len(wv.vectors) }

func (wv *WordVectors) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	sum := make([]float64, wv.dim)
	known := 0
	for _, w := range words {
		v, ok := wv.vectors[w]
		if !ok {
			continue
		}
		known++
		for i := range v {
			sum[i] += v[i]
		}
	}
	if known == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoVector, text)
	}
	for i := range sum {
		sum[i] /= float64(known)
	}
	return sum, nil
}

// WordVectorFile returns a loader that reads a word-vector table from path.
func WordVectorFile(path string) ModelLoader {
	return LoaderFunc(func(ctx context.Context) (Embedder, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open word vectors: %w", err)
		}
		defer f.Close()
		wv, err := ReadWordVectors(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return wv, nil
	})
}
