package models

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// GroupConfig is the cached per-group configuration projected from the
// relational store into a Redis hash. Reads may be stale between config
// pushes; every consumer must tolerate that.
type GroupConfig struct {
	Group          string `json:"group"`
	SeatLimit      int    `json:"seat_limit"`
	StartMinute    int    `json:"start_minute"`     // admission opens at this minute offset
	EndMinute      int    `json:"end_minute"`       // admission closes / task phase announced
	TaskEndMinute  int    `json:"task_end_minute"`  // weighted bids close
	ReportMinute   int    `json:"report_minute"`    // close-out report after the window ends
	WeightVocab    string `json:"weight_vocab"`     // e.g. "0.3<0.5<1.0<新人置顶"
	VerifyMode     string `json:"verify_mode"`
	AllowTaskQuit  bool   `json:"allow_task_quit"`  // withdrawal permitted during task phase
	CheckinLimit   int    `json:"checkin_limit"`    // concurrent away members per hour
	CheckinPerUser int    `json:"checkin_per_user"` // away reports per member per hour
	CheckinGrace   int    `json:"checkin_grace"`    // grace period, minutes
	LineupDesc     string `json:"lineup_desc"`
	WelcomeMsg     string `json:"welcome_msg"`
	ExitMsg        string `json:"exit_msg"`
}

func (c *GroupConfig) ToHash() map[string]any {
	return map[string]any{
		"group":            c.Group,
		"seat_limit":       c.SeatLimit,
		"start_minute":     c.StartMinute,
		"end_minute":       c.EndMinute,
		"task_end_minute":  c.TaskEndMinute,
		"report_minute":    c.ReportMinute,
		"weight_vocab":     c.WeightVocab,
		"verify_mode":      c.VerifyMode,
		"allow_task_quit":  strconv.FormatBool(c.AllowTaskQuit),
		"checkin_limit":    c.CheckinLimit,
		"checkin_per_user": c.CheckinPerUser,
		"checkin_grace":    c.CheckinGrace,
		"lineup_desc":      c.LineupDesc,
		"welcome_msg":      c.WelcomeMsg,
		"exit_msg":         c.ExitMsg,
	}
}

// GroupConfigFromHash rebuilds a config from HGETALL output. Malformed
// numeric fields degrade to zero values rather than failing the tick.
func GroupConfigFromHash(m map[string]string) GroupConfig {
	atoi := func(k string) int {
		v, _ := strconv.Atoi(m[k])
		return v
	}
	allowQuit, _ := strconv.ParseBool(m["allow_task_quit"])
	return GroupConfig{
		Group:          m["group"],
		SeatLimit:      atoi("seat_limit"),
		StartMinute:    atoi("start_minute"),
		EndMinute:      atoi("end_minute"),
		TaskEndMinute:  atoi("task_end_minute"),
		ReportMinute:   atoi("report_minute"),
		WeightVocab:    m["weight_vocab"],
		VerifyMode:     m["verify_mode"],
		AllowTaskQuit:  allowQuit,
		CheckinLimit:   atoi("checkin_limit"),
		CheckinPerUser: atoi("checkin_per_user"),
		CheckinGrace:   atoi("checkin_grace"),
		LineupDesc:     m["lineup_desc"],
		WelcomeMsg:     m["welcome_msg"],
		ExitMsg:        m["exit_msg"],
	}
}

// HostSlot is one hour of a group's hosting schedule, including the
// fixed-seat roster seeded at window open.
type HostSlot struct {
	Group     string `json:"group"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	HostDesc  string `json:"host_desc"`
	// Stage "start" marks the hour as an active window.
	Stage      string   `json:"stage"`
	FixedHosts []string `json:"fixed_hosts"`
}

const StageStart = "start"

// WeightVocabulary maps a group's ordered weight tokens to ascending
// integer ranks starting at 1. Numeric-looking tokens are compared as
// decimals by callers; non-numeric tokens simply take the next rank.
type WeightVocabulary struct {
	tokens []string
	ranks  map[string]int
}

// ParseWeightVocabulary splits the configured "a<b<c" string. Empty
// segments are skipped.
func ParseWeightVocabulary(raw string) WeightVocabulary {
	v := WeightVocabulary{ranks: make(map[string]int)}
	for _, part := range strings.Split(raw, "<") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		if _, dup := v.ranks[token]; dup {
			continue
		}
		v.tokens = append(v.tokens, token)
		v.ranks[token] = len(v.tokens)
	}
	return v
}

// Rank returns the token's rank, or 0 for unknown tokens (the safe
// lowest-tier default).
func (v WeightVocabulary) Rank(token string) int {
	return v.ranks[strings.TrimSpace(token)]
}

func (v WeightVocabulary) Contains(token string) bool {
	_, ok := v.ranks[strings.TrimSpace(token)]
	return ok
}

func (v WeightVocabulary) Tokens() []string {
	return v.tokens
}

// NumericWeight parses a label as a decimal task weight. Labels that are
// not numeric (置顶 tokens, speed marks) return false.
func NumericWeight(label string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(label))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
