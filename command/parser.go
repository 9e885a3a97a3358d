package command

import (
	"strings"

	"maixu-system/models"
)

// Kind classifies a recognized chat command.
type Kind string

const (
	KindAdmit     Kind = "admit"      // 排 / p / P, speed seat claim
	KindLateAdmit Kind = "late_admit" // 补, re-entry after close
	KindBid       Kind = "bid"        // bare weight token from the vocabulary
	KindBuyIn     Kind = "buyin"      // 买8 / 买9 plus a weight token
	KindWithdraw  Kind = "withdraw"   // 取
	KindTransfer  Kind = "transfer"   // 转 plus a mention
	KindTakeOut   Kind = "takeout"    // 带走 plus a mention
	KindShow      Kind = "show"       // 麦序
	KindReport    Kind = "report"     // 报备, away report
	KindReturn    Kind = "return"     // 回
)

// Command is one parsed member action.
type Command struct {
	Kind    Kind
	Label   string      // weight token for bids and buy-ins
	Lane    models.Lane // set for buy-ins
	Target  string      // mentioned member for transfer / take-out
	Content string      // free text for away reports
}

// Parse classifies a chat message against the group's weight
// vocabulary. Returns false for ordinary chatter, which the webhook
// ignores without reply.
func Parse(text string, mentions []string, vocab models.WeightVocabulary) (Command, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{}, false
	}
	target := ""
	if len(mentions) > 0 {
		target = mentions[0]
	}

	switch text {
	case "排", "p", "P":
		return Command{Kind: KindAdmit, Label: text}, true
	case "取":
		return Command{Kind: KindWithdraw}, true
	case "回":
		return Command{Kind: KindReturn}, true
	case "麦序":
		return Command{Kind: KindShow}, true
	}

	switch {
	case strings.HasPrefix(text, "买8"):
		return buyIn(models.LaneMai8, strings.TrimPrefix(text, "买8"), vocab)
	case strings.HasPrefix(text, "买9"):
		return buyIn(models.LaneMai9, strings.TrimPrefix(text, "买9"), vocab)
	case strings.HasPrefix(text, "补"):
		return Command{Kind: KindLateAdmit, Label: "补"}, true
	case strings.HasPrefix(text, "带走"):
		if target == "" {
			return Command{}, false
		}
		return Command{Kind: KindTakeOut, Target: target}, true
	case strings.HasPrefix(text, "转"):
		if target == "" {
			return Command{}, false
		}
		label := strings.TrimSpace(strings.TrimPrefix(text, "转"))
		return Command{Kind: KindTransfer, Target: target, Label: label}, true
	case strings.HasPrefix(text, "报备"):
		return Command{Kind: KindReport, Content: strings.TrimSpace(strings.TrimPrefix(text, "报备"))}, true
	}

	if vocab.Contains(text) {
		return Command{Kind: KindBid, Label: text}, true
	}
	return Command{}, false
}

// buyIn requires the rest of the message to be a known weight token:
// buying a lane without declaring a weight is meaningless.
func buyIn(lane models.Lane, rest string, vocab models.WeightVocabulary) (Command, bool) {
	label := strings.TrimSpace(rest)
	if label == "" || !vocab.Contains(label) {
		return Command{}, false
	}
	return Command{Kind: KindBuyIn, Lane: lane, Label: label}, true
}
