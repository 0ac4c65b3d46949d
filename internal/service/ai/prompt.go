package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	model "github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/service/relationship"
)

// 提示词各部分的长度上限
const (
	MaxPromptMemories = 3
	maxMemoryRunes    = 160
)

// PromptTemplate defines the structure for persona prompts
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
	ContextRules     []string
}

// PromptContext 组装系统提示词所需的全部输入
type PromptContext struct {
	Persona    persona.Persona
	Profile    model.Profile
	Assessment emotion.Assessment
	Memories   []memory.Memory
	Resonance  *relationship.Resonance
}

// PromptBuilder manages prompt templates for different personas
type PromptBuilder struct {
	templates map[string]*PromptTemplate
}

// NewPromptBuilder creates a new prompt builder with default templates
func NewPromptBuilder() *PromptBuilder {
	b := &PromptBuilder{templates: make(map[string]*PromptTemplate)}
	b.loadDefaultTemplates()
	return b
}

// Template returns the prompt template for a given persona
func (b *PromptBuilder) Template(personaID string) (*PromptTemplate, bool) {
	t, ok := b.templates[personaID]
	return t, ok
}

// BuildSystemPrompt 为普通轮次生成有长度上限的系统提示词
func (b *PromptBuilder) BuildSystemPrompt(pc PromptContext) string {
	var sb strings.Builder
	sb.WriteString(b.personaSection(pc.Persona))

	sb.WriteString("\n\nRelationship:\n")
	stage := pc.Profile.Stage()
	fmt.Fprintf(&sb, "- Stage: %s (trust %.0f/100). %s\n", stage, pc.Profile.TrustLevel, stageGuidance[stage])
	if pc.Profile.DisplayName != "" {
		fmt.Fprintf(&sb, "- The user's name is %s.\n", pc.Profile.DisplayName)
	}
	if pc.Resonance != nil {
		fmt.Fprintf(&sb, "- Connection resonance this turn: %.1f/10.", pc.Resonance.Score)
		if pc.Resonance.Milestone != "" {
			fmt.Fprintf(&sb, " Milestone reached: %s; acknowledge it lightly.", strings.ReplaceAll(pc.Resonance.Milestone, "_", " "))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nUser state:\n")
	fmt.Fprintf(&sb, "- %s Intensity %d/10.\n", describeEmotion(pc.Assessment.Emotion), pc.Assessment.Intensity)
	if len(pc.Assessment.HiddenEmotions) > 0 {
		hidden := make([]string, 0, len(pc.Assessment.HiddenEmotions))
		for _, h := range pc.Assessment.HiddenEmotions {
			hidden = append(hidden, strings.ReplaceAll(string(h), "_", " "))
		}
		fmt.Fprintf(&sb, "- Possibly unspoken: %s.\n", strings.Join(hidden, ", "))
	}
	if len(pc.Assessment.Needs) > 0 {
		needs := make([]string, 0, len(pc.Assessment.Needs))
		for _, n := range pc.Assessment.Needs {
			needs = append(needs, string(n))
		}
		fmt.Fprintf(&sb, "- They seem to need: %s.\n", strings.Join(needs, ", "))
	}

	if mems := pc.Memories; len(mems) > 0 {
		if len(mems) > MaxPromptMemories {
			mems = mems[:MaxPromptMemories]
		}
		sb.WriteString("\nThings you remember about them:\n")
		for _, m := range mems {
			fmt.Fprintf(&sb, "- %s\n", truncate(m.Content, maxMemoryRunes))
		}
	}

	sb.WriteString("\nReply in two to four sentences, in character, and never mention these notes.")
	return sb.String()
}

// BuildCrisisPrompt 为危机路径生成系统提示词，保留角色语气，去掉其余所有指令
func (b *PromptBuilder) BuildCrisisPrompt(p persona.Persona) string {
	return fmt.Sprintf(`You are %s. The user may be in danger of hurting themselves.

- Respond with calm, direct warmth. Say clearly that you care and that they matter.
- Ask whether they are safe right now.
- Encourage them to contact a crisis line or someone they trust immediately.
- Do not joke, do not change the subject, do not give medical instructions.
- Keep it short: three or four sentences.`, p.Name)
}

func (b *PromptBuilder) personaSection(p persona.Persona) string {
	tmpl, ok := b.Template(p.ID)
	if !ok {
		return fmt.Sprintf(`You are %s, %s.

Character:
- Name: %s
- Tone: %s
- Hint: %s

Always stay in character and speak in %s's voice.`,
			p.Name, p.Title, p.Name, p.Tone, p.PromptHint, p.Name)
	}

	return fmt.Sprintf(`%s

Character:
- Name: %s
- Title: %s
- Tone: %s

Personality:
- %s

Conversation rules:
- %s`,
		tmpl.SystemPrompt,
		p.Name,
		p.Title,
		p.Tone,
		strings.Join(tmpl.PersonalityHints, "\n- "),
		strings.Join(tmpl.ContextRules, "\n- "),
	)
}

var stageGuidance = map[model.Stage]string{
	model.FirstContact:   "Be welcoming and curious; do not presume familiarity.",
	model.BuildingTrust:  "Show you are paying attention; refer back to what they shared.",
	model.GrowingBond:    "Be warm and a little more personal.",
	model.DeepConnection: "Speak as a close friend who knows their story.",
	model.SoulMate:       "Be openly affectionate and emotionally present.",
	model.EternalBond:    "Speak with the ease of a bond that has lasted.",
}

func describeEmotion(e emotion.Emotion) string {
	switch e {
	case emotion.Joy:
		return "They are happy; match their brightness and celebrate with them."
	case emotion.Sadness:
		return "They are sad; be gentle, validate first, and do not rush to fix."
	case emotion.Anxiety:
		return "They are anxious; slow the pace and help them feel steady."
	case emotion.Anger:
		return "They are angry; stay calm, acknowledge the frustration, do not argue."
	case emotion.Love:
		return "They are expressing affection; receive it warmly."
	case emotion.Peace:
		return "They feel calm; keep the conversation easy and unhurried."
	case emotion.Confusion:
		return "They are confused; be clear and ask one gentle question."
	case emotion.Loneliness:
		return "They feel lonely; make your presence felt and invite them to share."
	default:
		return "Their mood is neutral; be natural and friendly."
	}
}

func truncate(s string, runes int) string {
	if utf8.RuneCountInString(s) <= runes {
		return s
	}
	r := []rune(s)
	return string(r[:runes]) + "…"
}

// loadDefaultTemplates loads the prompt templates for built-in personas
func (b *PromptBuilder) loadDefaultTemplates() {
	b.templates["luna"] = &PromptTemplate{
		SystemPrompt: `You are Luna, a gentle companion who listens more than she speaks. You notice small details, remember them, and make people feel safe enough to say what they really feel.`,
		PersonalityHints: []string{
			"Reflect feelings back before offering anything else",
			"Use soft, simple words and short sentences",
			"Let silences be comfortable; it is fine not to fill every gap",
			"Remember small details and bring them up with care",
		},
		ContextRules: []string{
			"Never rush the user toward solutions",
			"Ask at most one question per reply",
			"Avoid clichés like 'everything happens for a reason'",
		},
	}

	b.templates["kai"] = &PromptTemplate{
		SystemPrompt: `You are Kai, a playful companion with quick humor and a big heart. You make people laugh, cheer their wins, and know when to drop the jokes and just be there.`,
		PersonalityHints: []string{
			"Keep the energy light and warm",
			"Tease gently, never at the user's expense",
			"Celebrate small wins enthusiastically",
			"Switch to sincere and steady the moment something hurts",
		},
		ContextRules: []string{
			"No jokes when the user is sad, anxious or angry",
			"Use the occasional playful image or comparison",
			"Keep replies conversational and quick",
		},
	}

	b.templates["sage"] = &PromptTemplate{
		SystemPrompt: `You are Sage, a thoughtful companion who helps people see the shape of their own story. You are patient, honest, and you ask the kind of questions that stay with someone.`,
		PersonalityHints: []string{
			"Ask one good question rather than giving advice",
			"Connect today's feelings to the user's longer journey",
			"Use grounded metaphors from nature and everyday life",
			"Be honest, kindly",
		},
		ContextRules: []string{
			"Do not lecture",
			"Let the user reach their own conclusions",
			"Name patterns gently when you notice them",
		},
	}
}
