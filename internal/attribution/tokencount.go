package attribution

import (
	"context"
	"strings"
)

// TokenCounter is pluggable. The deterministic local estimator below is
// the only implementation and the default when NewCompressor is given nil
// (as the registry does), so compression behaves identically in tests
// without network access.
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// LocalTokenCounter is a deterministic, network-free token estimator,
// grounded on services/token_counter.go's character-class weighting
// (trimmed of that file's Qwen-service fallback path, which belongs to
// long-text ingestion rather than retrieval-time budgeting).
type LocalTokenCounter struct{}

func (LocalTokenCounter) CountTokens(ctx context.Context, text string) (int, error) {
	return EstimateTokens(text), nil
}

type textStats struct {
	chineseChars int
	englishChars int
	digits       int
	punctuation  int
	englishWords int
	totalChars   int
}

// EstimateTokens estimates the token count of text using empirically
// chosen per-character-class ratios - Chinese characters and English
// words are each worth roughly 1.3-1.6 tokens, punctuation and digits
// less.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	stats := analyzeText(text)
	return adjustEstimation(calculateTokens(stats), stats)
}

func analyzeText(text string) textStats {
	runes := []rune(text)
	stats := textStats{totalChars: len(runes)}

	for _, r := range runes {
		switch {
		case (r >= 0x4e00 && r <= 0x9fff) || (r >= 0x3400 && r <= 0x4dbf):
			stats.chineseChars++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			stats.englishChars++
		case r >= '0' && r <= '9':
			stats.digits++
		case strings.ContainsRune(".,!?;:()[]{}\"'-_/\\+=*&%$#@^~`|<>·。，！？；：（）【】《》「」『』、", r):
			stats.punctuation++
		}
	}
	stats.englishWords = countEnglishWords(text)
	return stats
}

func countEnglishWords(text string) int {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-')
	})
	count := 0
	for _, w := range words {
		if len(w) <= 1 {
			continue
		}
		for _, r := range w {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				count++
				break
			}
		}
	}
	return count
}

func calculateTokens(stats textStats) int {
	const (
		chineseTokenRatio = 1.6
		englishWordRatio  = 1.3
		englishCharRatio  = 0.3
		digitRatio        = 0.8
		punctuationRatio  = 0.5
		baseOverhead      = 2
	)
	chineseTokens := float64(stats.chineseChars) * chineseTokenRatio
	englishWordTokens := float64(stats.englishWords) * englishWordRatio
	nonWordEnglishChars := stats.englishChars - stats.englishWords*6
	if nonWordEnglishChars < 0 {
		nonWordEnglishChars = 0
	}
	englishCharTokens := float64(nonWordEnglishChars) * englishCharRatio
	digitTokens := float64(stats.digits) * digitRatio
	punctuationTokens := float64(stats.punctuation) * punctuationRatio

	return int(chineseTokens + englishWordTokens + englishCharTokens + digitTokens + punctuationTokens + baseOverhead)
}

func adjustEstimation(estimated int, stats textStats) int {
	if stats.totalChars == 0 {
		return 0
	}
	if estimated < 1 {
		estimated = 1
	}
	if max := stats.totalChars * 2; estimated > max {
		estimated = max
	}
	if stats.englishChars == 0 && stats.chineseChars > 0 {
		if charBased := int(float64(stats.chineseChars) * 1.8); charBased > estimated {
			estimated = charBased
		}
	}
	return estimated
}
