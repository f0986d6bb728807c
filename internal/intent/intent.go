// Package intent classifies a chat message into one of four intents using
// fixed keyword lists and two episode-number patterns. Classification is
// deterministic and never fails.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/p-blackswan/studio-agent/internal/catalog"
)

// Kind names an intent on the wire.
type Kind string

const (
	KindGenerate        Kind = "artifact.generate"
	KindAwaitingEpisode Kind = "chat.awaiting_episode"
	KindSummary         Kind = "project.summary"
	KindSmalltalk       Kind = "chat.smalltalk"
)

// Intent is one of Generate, AwaitingEpisode, Summary or Smalltalk.
type Intent interface {
	Kind() Kind
	// Extra is the structured metadata stored with the assistant reply.
	Extra() map[string]any
}

// Generate asks for a new artifact version.
type Generate struct {
	Template     catalog.Code
	Episode      *int
	Instructions string
}

// AwaitingEpisode is an episodic generate request without an episode number.
type AwaitingEpisode struct {
	Template catalog.Code
}

// Summary asks for the project's progress.
type Summary struct{}

// Smalltalk is everything else.
type Smalltalk struct{}

func (Generate) Kind() Kind        { return KindGenerate }
func (AwaitingEpisode) Kind() Kind { return KindAwaitingEpisode }
func (Summary) Kind() Kind         { return KindSummary }
func (Smalltalk) Kind() Kind       { return KindSmalltalk }

func (g Generate) Extra() map[string]any {
	var episode any
	if g.Episode != nil {
		episode = *g.Episode
	}
	return map[string]any{
		"intent":         string(KindGenerate),
		"template_code":  string(g.Template),
		"template_label": catalog.Label(g.Template),
		"episode":        episode,
		"instructions":   g.Instructions,
	}
}

func (a AwaitingEpisode) Extra() map[string]any {
	return map[string]any{"intent": string(KindAwaitingEpisode), "template_code": string(a.Template)}
}

func (Summary) Extra() map[string]any   { return map[string]any{"intent": string(KindSummary)} }
func (Smalltalk) Extra() map[string]any { return map[string]any{"intent": string(KindSmalltalk)} }

var summaryKeywords = []string{"進捗", "状況", "まとめ", "足りない", "未完了", "完了した", "残り"}

// English keywords are matched against the lowercased message.
var summaryKeywordsASCII = []string{"progress", "status", "summary"}

var actionKeywords = []string{"生成", "作成", "作って", "出力", "描いて", "用意", "ください", "お願いします"}

type templateKeywords struct {
	code     catalog.Code
	keywords []string
}

// Specific templates come before broad ones; the first match wins.
var templatePriority = []templateKeywords{
	{catalog.EpisodeSummary, []string{"エピソード概要", "エピソードサマリー", "あらすじ", "ストーリー概要"}},
	{catalog.EpisodeScript, []string{"脚本", "台本", "シナリオ"}},
	{catalog.StoryboardTable, []string{"絵コンテ", "ストーリーボード"}},
	{catalog.CharacterDesign, []string{"キャラ", "キャラクター", "人物設定", "デザイン"}},
	{catalog.BackgroundSample, []string{"背景", "美術設定", "ロケーション"}},
	{catalog.KeyframeImage, []string{"キーフレーム", "ビジュアル", "イメージボード", "画像"}},
	{catalog.OverallSpec, []string{"全体仕様", "世界観", "コンセプト", "概要"}},
}

var (
	labeledEpisode = regexp.MustCompile(`(?i)(?:第|episode[\s_]*)([0-9０-９]+)`)
	bareEpisode    = regexp.MustCompile(`(?i)([0-9０-９]+)\s*(?:話|章|episode|ep)`)
)

// Classify maps message to an Intent.
func Classify(message string) Intent {
	normalized := strings.TrimSpace(message)
	lowered := strings.ToLower(normalized)

	if containsAny(normalized, summaryKeywords) || containsAny(lowered, summaryKeywordsASCII) {
		return Summary{}
	}

	if !containsAny(normalized, actionKeywords) {
		return Smalltalk{}
	}
	for _, t := range templatePriority {
		if !containsAny(normalized, t.keywords) {
			continue
		}
		episode := ExtractEpisode(lowered)
		if catalog.IsEpisodic(t.code) && episode == nil {
			return AwaitingEpisode{Template: t.code}
		}
		return Generate{Template: t.code, Episode: episode, Instructions: normalized}
	}
	return Smalltalk{}
}

// ExtractEpisode finds an episode number, trying the labeled form (第3話,
// episode 3) before the bare form (3話, 3 ep). Full-width digits (第３話) are
// accepted. Numbers that do not fit an int count as absent.
func ExtractEpisode(message string) *int {
	for _, re := range []*regexp.Regexp{labeledEpisode, bareEpisode} {
		m := re.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(asciiDigits(m[1]))
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}

func asciiDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return r - '０' + '0'
		}
		return r
	}, s)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
