package services

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"unicode"
)

// BERT special token ids (bert-base-uncased vocabulary).
const (
	tokenPad = 0
	tokenUNK = 100
	tokenCLS = 101
	tokenSEP = 102
)

// WordPieceTokenizer produces input_ids / attention_mask / token_type_ids for
// BERT-style sentence-transformer models. Without a vocabulary it falls back
// to hashed word ids.
type WordPieceTokenizer struct {
	vocab map[string]int64
}

// LoadWordPieceTokenizer reads a one-token-per-line vocab.txt.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("語彙ファイルの読み込みに失敗: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("語彙ファイルの解析に失敗: %w", err)
	}
	return &WordPieceTokenizer{vocab: vocab}, nil
}

// NewWordPieceTokenizer builds a tokenizer from an in-memory vocabulary (nil: hashed ids).
func NewWordPieceTokenizer(vocab map[string]int64) *WordPieceTokenizer {
	return &WordPieceTokenizer{vocab: vocab}
}

// Tokenize returns padded ids of length maxTokens: [CLS] pieces... [SEP] 0 0 ...
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 128
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1

	for _, word := range basicTokens(text) {
		for _, id := range t.wordPieces(word) {
			if pos >= maxTokens-1 {
				break
			}
			inputIDs[pos] = id
			attentionMask[pos] = 1
			pos++
		}
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	for i := pos + 1; i < maxTokens; i++ {
		inputIDs[i] = tokenPad
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// wordPieces applies greedy longest-match-first over the vocabulary.
func (t *WordPieceTokenizer) wordPieces(word string) []int64 {
	if len(t.vocab) == 0 {
		h := fnv.New32a()
		h.Write([]byte(word))
		// keep clear of the special ids at the bottom of the vocabulary
		return []int64{int64(h.Sum32()%29000) + 1000}
	}

	runes := []rune(word)
	var ids []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := int64(-1)
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int64{tokenUNK}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// basicTokens lowercases, splits on whitespace and isolates punctuation.
func basicTokens(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
