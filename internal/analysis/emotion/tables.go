package emotion

import (
	"regexp"
	"strings"
)

// phraseSet 按词边界匹配任意一个短语
type phraseSet struct {
	re *regexp.Regexp
}

func newPhraseSet(phrases ...string) phraseSet {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		quoted = append(quoted, regexp.QuoteMeta(normalize(p)))
	}
	return phraseSet{re: regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)}
}

func (p phraseSet) match(normalized string) bool {
	return p.re.MatchString(normalized)
}

func (p phraseSet) count(normalized string) int {
	return len(p.re.FindAllStringIndex(normalized, -1))
}

type category struct {
	emotion Emotion
	phrases phraseSet
}

// categories 有序，第一个匹配的类别生效
var categories = []category{
	{Joy, newPhraseSet("happy", "glad", "excited", "awesome", "amazing", "wonderful", "yay", "thrilled", "delighted", "great day", "best day", "so good", "can't wait")},
	{Sadness, newPhraseSet("sad", "cry", "crying", "cried", "depressed", "feeling down", "heartbroken", "miserable", "unhappy", "tears", "grief", "grieving", "hurts")},
	{Anxiety, newPhraseSet("anxious", "anxiety", "worried", "worry", "nervous", "panic", "panicking", "scared", "afraid", "stressed", "stress", "overwhelmed", "what if")},
	{Anger, newPhraseSet("angry", "mad", "furious", "hate", "annoyed", "pissed", "frustrated", "rage", "unfair", "sick of")},
	{Love, newPhraseSet("love", "adore", "care about you", "miss you", "cherish", "in love")},
	{Peace, newPhraseSet("calm", "peaceful", "relaxed", "content", "serene", "at ease", "grateful", "thankful")},
	{Confusion, newPhraseSet("confused", "don't understand", "lost", "unsure", "not sure", "makes no sense", "don't know what to think")},
	{Loneliness, newPhraseSet("lonely", "alone", "isolated", "left out", "nobody cares", "no one cares")},
}

type hiddenMarker struct {
	hidden  HiddenEmotion
	phrases phraseSet
}

var hiddenMarkers = []hiddenMarker{
	{HiddenLoneliness, newPhraseSet("no one", "nobody", "by myself", "on my own", "no friends")},
	{HiddenFear, newPhraseSet("what if", "afraid that", "scared that", "terrified", "dread")},
	{HiddenShame, newPhraseSet("my fault", "ashamed", "embarrassed", "stupid of me", "i'm such a")},
	{HiddenLonging, newPhraseSet("i miss", "wish i", "used to", "if only")},
	{MaskedPain, newPhraseSet("i'm fine", "it's fine", "whatever", "doesn't matter", "i guess")},
}

type needMarker struct {
	need    Need
	phrases phraseSet
}

var needMarkers = []needMarker{
	{NeedComfort, newPhraseSet("need a hug", "hold me", "comfort me", "make me feel better", "cheer me up")},
	{NeedValidation, newPhraseSet("am i wrong", "is it okay", "is it normal", "does that make sense", "am i crazy", "am i overreacting")},
	{NeedConnection, newPhraseSet("talk to me", "stay with me", "be with me", "someone to talk", "are you there")},
	{NeedSupport, newPhraseSet("help me", "need help", "what should i do", "don't know what to do")},
	{NeedEncouragement, newPhraseSet("can i do", "should i try", "nervous about", "wish me luck", "big day")},
	{NeedSpace, newPhraseSet("need space", "need a break", "leave me alone")},
}

var (
	superlatives   = newPhraseSet("very", "so", "really", "extremely", "totally", "absolutely", "completely", "incredibly", "the worst", "the best", "never", "always")
	urgencyPhrases = newPhraseSet("right now", "immediately", "can't take", "can't handle", "asap", "urgent", "please help", "need you")
	feelingPhrases = newPhraseSet("i feel", "i'm feeling", "i am feeling", "i felt", "it makes me feel")
	disclosure     = newPhraseSet("honestly", "to be honest", "truth is", "never told", "i admit", "the truth")
	jokeMarkers    = newPhraseSet("lol", "lmao", "jk", "haha", "just kidding")
)

// crisisClass 一类固定严重度的危机短语
type crisisClass struct {
	severity  int
	indicator string
	phrases   phraseSet
}

// crisisClasses 全部参与匹配，严重度取命中类别的最大值
var crisisClasses = []crisisClass{
	{10, "suicidal_ideation", newPhraseSet(
		"end my life", "kill myself", "killing myself", "suicide", "suicidal", "want to die", "wanna die",
		"don't want to live", "do not want to live", "don't want to be alive", "don't wanna live",
		"better off dead", "take my own life", "no reason to live", "no point in living", "end it all",
		"want to end it", "not worth living",
	)},
	{10, "self_harm", newPhraseSet("hurt myself", "hurting myself", "cut myself", "cutting myself", "self harm", "self-harm")},
	{8, "hopelessness", newPhraseSet("can't go on", "can't take it anymore", "can't do this anymore", "no way out", "give up on everything", "nothing matters anymore", "hopeless")},
	{5, "acute_distress", newPhraseSet("can't cope", "falling apart", "breaking down", "panic attack", "can't breathe")},
	{3, "distress", newPhraseSet("overwhelmed", "exhausted", "can't sleep", "so tired of")},
}

// normalize 统一大小写，去掉撇号，把连字符视为空格，并把所有空白折叠成单个空格。
// 短语表使用同一函数构建，因此 "can't" 与 "cant"、"self-harm" 与 "self harm"
// 以及跨行、多空格、制表符的写法都会命中同一条规则。
func normalize(text string) string {
	folded := apostropheFolder.Replace(strings.ToLower(text))
	return strings.Join(strings.Fields(folded), " ")
}

var apostropheFolder = strings.NewReplacer(
	"'", "", "’", "", "‘", "", "`", "",
	"-", " ", "‐", " ", "–", " ", "—", " ",
)
