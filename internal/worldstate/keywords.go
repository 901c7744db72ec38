package worldstate

import "strings"

// =============================================================================
// BILINGUAL KEYWORD SETS
// =============================================================================
//
// Two independent vocabularies (English and Chinese) tested with OR
// semantics: a fact matches a pattern group when any word from either
// language appears in its text.

var obtainKeywords = []string{
	// English
	"obtain", "receive", "received", "acquire", "acquired", "found",
	"picked up", "takes", "took", "given", "gives", "gave", "gain",
	"gained", "grant", "granted", "reward", "looted",
	// Chinese
	"获得", "得到", "拿到", "捡到", "收到", "拾取", "赢得", "夺得",
}

var loseKeywords = []string{
	"lose", "lost", "dropped", "discard", "discarded", "stolen",
	"gave away", "broke", "broken", "destroyed", "shattered", "consumed",
	"used up", "surrendered",
	"失去", "丢失", "丢掉", "掉落", "被偷", "损坏", "摧毁", "用掉",
}

var movementKeywords = []string{
	"arrive", "arrived", "enter", "entered", "travel", "traveled",
	"went to", "goes to", "reached", "moved to", "departs for", "heads to",
	"headed to", "returned to",
	"到达", "抵达", "进入", "前往", "来到", "去了", "出发", "回到",
}

var relationshipKeywords = []string{
	"trust", "trusts", "befriend", "friend", "ally", "allied", "betray",
	"betrayed", "romance", "loves", "hates", "forgave", "forgives",
	"insulted", "threatened", "rivals", "enemy",
	"信任", "背叛", "喜欢", "爱上", "讨厌", "愤怒", "原谅", "友好",
	"敌对", "威胁", "结盟",
}

var positiveSentiment = []string{
	"trust", "friend", "ally", "love", "loves", "befriend", "help",
	"helped", "save", "saved", "protect", "protected", "forgive",
	"forgave", "gift", "thanked", "praised", "rescued",
	"信任", "喜欢", "爱", "帮助", "拯救", "保护", "原谅", "感谢",
	"称赞", "结盟", "友好",
}

var negativeSentiment = []string{
	"betray", "betrayed", "hate", "hates", "attack", "attacked",
	"insult", "insulted", "threaten", "threatened", "stole", "hurt",
	"wounded", "killed", "lied", "angry", "enemy", "cursed",
	"背叛", "讨厌", "攻击", "侮辱", "威胁", "偷", "伤害", "杀",
	"欺骗", "愤怒", "敌对", "诅咒",
}

// matchesAny reports whether any keyword appears in the lowercased text.
func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// sentimentSign is +1 for positive language, -1 for negative, 0 for
// neither. Negative wins when both appear: a betrayal phrased politely is
// still a betrayal.
func sentimentSign(text string) int {
	if matchesAny(text, negativeSentiment) {
		return -1
	}
	if matchesAny(text, positiveSentiment) {
		return 1
	}
	return 0
}
