// Package catalog enumerates the fixed set of artifact templates a project is
// made of. Templates are either global (one per project) or episodic (one per
// planned episode).
package catalog

import (
	"fmt"
	"slices"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// Code identifies one template.
type Code string

const (
	OverallSpec      Code = "overall_spec"
	CharacterDesign  Code = "character_design"
	BackgroundSample Code = "background_sample"
	EpisodeSummary   Code = "episode_summary"
	EpisodeScript    Code = "episode_script"
	StoryboardTable  Code = "storyboard_table"
	KeyframeImage    Code = "keyframe_image"
)

// Scope partitions the catalogue.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeEpisodic Scope = "episodic"
)

// Media tells the generation pipeline which variant produces the template.
type Media string

const (
	MediaText  Media = "text"
	MediaImage Media = "image"
)

// Template describes one catalogue entry.
type Template struct {
	Code  Code   `json:"code"`
	Scope Scope  `json:"scope"`
	Media Media  `json:"media"`
	Label string `json:"label"`
}

var global = []Template{
	{Code: OverallSpec, Scope: ScopeGlobal, Media: MediaText, Label: "作品全体仕様書"},
	{Code: CharacterDesign, Scope: ScopeGlobal, Media: MediaText, Label: "キャラクター設定"},
	{Code: BackgroundSample, Scope: ScopeGlobal, Media: MediaText, Label: "背景サンプル"},
}

var episodic = []Template{
	{Code: EpisodeSummary, Scope: ScopeEpisodic, Media: MediaText, Label: "エピソード概要"},
	{Code: EpisodeScript, Scope: ScopeEpisodic, Media: MediaText, Label: "エピソード脚本"},
	{Code: StoryboardTable, Scope: ScopeEpisodic, Media: MediaText, Label: "絵コンテ表"},
	{Code: KeyframeImage, Scope: ScopeEpisodic, Media: MediaImage, Label: "キーフレーム画像"},
}

var byCode = func() map[Code]Template {
	m := make(map[Code]Template, len(global)+len(episodic))
	for _, t := range global {
		m[t.Code] = t
	}
	for _, t := range episodic {
		m[t.Code] = t
	}
	return m
}()

// Global returns the global template codes in catalogue order.
func Global() []Code { return codes(global) }

// Episodic returns the episodic template codes in catalogue order.
func Episodic() []Code { return codes(episodic) }

// All returns every template, global first.
func All() []Template {
	out := make([]Template, 0, len(global)+len(episodic))
	out = append(out, global...)
	return append(out, episodic...)
}

// Lookup returns the template for code.
func Lookup(code Code) (Template, bool) {
	t, ok := byCode[code]
	return t, ok
}

// Validate returns a ValidationError when code is not in the catalogue.
func Validate(code Code) error {
	if _, ok := byCode[code]; !ok {
		return serrors.Invalid("template_code", fmt.Sprintf("未対応のテンプレートコードです: %s", code))
	}
	return nil
}

// IsEpisodic reports whether code requires an episode number.
func IsEpisodic(code Code) bool {
	return byCode[code].Scope == ScopeEpisodic
}

// Label returns the display label, falling back to the raw code.
func Label(code Code) string {
	if t, ok := byCode[code]; ok {
		return t.Label
	}
	return string(code)
}

// ValidateEpisode applies the episode rules for code against a project
// planning episodesPlanned installments.
func ValidateEpisode(code Code, episode *int, episodesPlanned int) error {
	if err := Validate(code); err != nil {
		return err
	}
	if !IsEpisodic(code) {
		if episode != nil {
			return serrors.Invalid("episode", "episode must be omitted for global templates")
		}
		return nil
	}
	if episode == nil {
		return serrors.Invalid("episode", "episode is required for episodic templates")
	}
	if *episode < 1 {
		return serrors.Invalid("episode", "episode must be a positive integer")
	}
	if *episode > episodesPlanned {
		return serrors.Invalid("episode", fmt.Sprintf("episode %d exceeds planned count %d", *episode, episodesPlanned))
	}
	return nil
}

func codes(ts []Template) []Code {
	out := make([]Code, len(ts))
	for i, t := range ts {
		out[i] = t.Code
	}
	return out
}

// Sorted returns a sorted copy of cs.
func Sorted(cs []Code) []Code {
	out := slices.Clone(cs)
	slices.Sort(out)
	return out
}
