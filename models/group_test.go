package models

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeightVocabulary_RanksAscending(t *testing.T) {
	vocab := ParseWeightVocabulary("0.3<0.5<1.0<新人置顶")

	assert.Equal(t, 1, vocab.Rank("0.3"))
	assert.Equal(t, 2, vocab.Rank("0.5"))
	assert.Equal(t, 4, vocab.Rank("新人置顶"))
	assert.Equal(t, 0, vocab.Rank("9.9"))
	assert.True(t, vocab.Contains(" 0.5 "))
	assert.Equal(t, []string{"0.3", "0.5", "1.0", "新人置顶"}, vocab.Tokens())
}

func TestParseWeightVocabulary_SkipsEmptyAndDuplicateTokens(t *testing.T) {
	vocab := ParseWeightVocabulary("0.3<<0.3< 0.5")

	assert.Equal(t, []string{"0.3", "0.5"}, vocab.Tokens())
	assert.Equal(t, 2, vocab.Rank("0.5"))
}

func TestNumericWeight(t *testing.T) {
	d, ok := NumericWeight("0.5")
	require.True(t, ok)
	assert.Equal(t, "0.5", d.String())

	_, ok = NumericWeight("新人置顶")
	assert.False(t, ok)

	_, ok = NumericWeight("固定排")
	assert.False(t, ok)
}

func TestGroupConfig_HashRoundTrip(t *testing.T) {
	cfg := GroupConfig{
		Group:          "g1",
		SeatLimit:      8,
		StartMinute:    10,
		EndMinute:      40,
		TaskEndMinute:  50,
		ReportMinute:   5,
		WeightVocab:    "0.3<0.5",
		VerifyMode:     "strict",
		AllowTaskQuit:  true,
		CheckinLimit:   3,
		CheckinPerUser: 2,
		CheckinGrace:   10,
		LineupDesc:     "tonight",
		WelcomeMsg:     "welcome",
		ExitMsg:        "bye",
	}

	hash := cfg.ToHash()
	asStrings := make(map[string]string, len(hash))
	for k, v := range hash {
		switch typed := v.(type) {
		case string:
			asStrings[k] = typed
		case int:
			asStrings[k] = strconv.Itoa(typed)
		}
	}

	assert.Equal(t, cfg, GroupConfigFromHash(asStrings))
}

func TestGroupConfigFromHash_ToleratesGarbage(t *testing.T) {
	cfg := GroupConfigFromHash(map[string]string{
		"group":      "g1",
		"seat_limit": "not-a-number",
	})

	assert.Equal(t, "g1", cfg.Group)
	assert.Equal(t, 0, cfg.SeatLimit)
	assert.False(t, cfg.AllowTaskQuit)
}
