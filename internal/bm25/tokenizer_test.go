package bm25

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "zh", DetectLanguage("这是一个关于合同条款的问题"))
	assert.Equal(t, "en", DetectLanguage("what is the refund policy"))
	assert.Equal(t, "en", DetectLanguage(""))
}

func TestTokenizeEN_LowercasesAndRemovesStopwords(t *testing.T) {
	tokens := Tokenize("The Quick Brown Fox is a fox")
	assert.NotContains(t, tokens, "the")
	assert.NotContains(t, tokens, "is")
	assert.NotContains(t, tokens, "a")
	assert.Contains(t, tokens, "quick")
	assert.Contains(t, tokens, "fox")
}

func TestTokenizeZH_EmitsCharsAndBigrams(t *testing.T) {
	tokens := Tokenize("合同条款")
	assert.Contains(t, tokens, "合")
	assert.Contains(t, tokens, "同")
	assert.Contains(t, tokens, "合同")
	assert.Contains(t, tokens, "同条")
	assert.Contains(t, tokens, "条款")
}

func TestTokenizeZH_PreservesEmbeddedLatinWords(t *testing.T) {
	tokens := Tokenize("这是GPT模型")
	assert.Contains(t, tokens, "gpt")
}
