package guide

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
)

// TemplateBackend turns a transcript into a structured guide with
// pure text processing. It has no external dependency and therefore
// terminates every generation chain: once a transcript exists, some
// guide is always produced.
type TemplateBackend struct {
	Config config.TemplateConfig
	Now    func() time.Time
}

func (t *TemplateBackend) Name() string { return "template" }

func (t *TemplateBackend) Available() bool { return true }

func (t *TemplateBackend) Timeout() time.Duration { return 0 }

func (t *TemplateBackend) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *TemplateBackend) Invoke(_ context.Context, req Request) (*Document, error) {
	if req.Transcript == nil {
		return nil, fmt.Errorf("transcript is required")
	}

	// Commands and URLs come from the uncorrected text: term
	// corrections must not rewrite case-sensitive shell syntax.
	raw := whitespaceRe.ReplaceAllString(strings.TrimSpace(req.Transcript.Text), " ")
	text := t.cleanText(req.Transcript.Text)

	doc := &Document{
		Title:           extractTitle(text),
		Introduction:    extractIntroduction(text),
		Sections:        t.extractSections(text),
		Prerequisites:   extractPrerequisites(text),
		Troubleshooting: extractTroubleshooting(text),
		Metadata: Metadata{
			SourceVideo:          req.VideoName,
			GeneratedAt:          t.now().UTC(),
			WordCount:            len(strings.Fields(text)),
			EstimatedReadingTime: estimateReadingTime(text),
		},
	}
	if t.Config.ExtractCommands {
		doc.Commands = extractCommands(raw)
	}
	if t.Config.ExtractURLs {
		doc.URLs = extractURLs(raw)
	}

	return doc, nil
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	fillerRe     = regexp.MustCompile(`(?i)\b(um+|uh+|you know|sort of|kind of|basically|like,)\s*`)

	termCorrections = []struct {
		pattern     *regexp.Regexp
		replacement string
	}{
		{regexp.MustCompile(`(?i)\bip address\b`), "IP address"},
		{regexp.MustCompile(`(?i)\bapi\b`), "API"},
		{regexp.MustCompile(`(?i)\burl\b`), "URL"},
		// The trailing group keeps URL schemes like https:// untouched.
		{regexp.MustCompile(`(?i)\bhttps\b([^:]|$)`), "HTTPS$1"},
		{regexp.MustCompile(`(?i)\bhttp\b([^:]|$)`), "HTTP$1"},
		{regexp.MustCompile(`(?i)\bssh\b`), "SSH"},
		{regexp.MustCompile(`(?i)\bgit\b`), "Git"},
		{regexp.MustCompile(`(?i)\bdocker\b`), "Docker"},
		{regexp.MustCompile(`(?i)\bkubernetes\b`), "Kubernetes"},
		{regexp.MustCompile(`(?i)\blinux\b`), "Linux"},
		{regexp.MustCompile(`(?i)\bubuntu\b`), "Ubuntu"},
		{regexp.MustCompile(`(?i)\baws\b`), "AWS"},
	}

	sentenceBreakRe = regexp.MustCompile(`(?i)(\w+)\s+(now|next|then|so|okay|alright)\s+`)
	spaceBeforeRe   = regexp.MustCompile(`\s+([,.!?;:])`)
	spaceAfterRe    = regexp.MustCompile(`([,.!?;:])\s+`)
)

func (t *TemplateBackend) cleanText(text string) string {
	text = whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")

	if t.Config.RemoveFillers {
		text = fillerRe.ReplaceAllString(text, "")
	}

	for _, correction := range termCorrections {
		text = correction.pattern.ReplaceAllString(text, correction.replacement)
	}

	text = sentenceBreakRe.ReplaceAllString(text, "$1. $2 ")
	text = spaceBeforeRe.ReplaceAllString(text, "$1")
	text = spaceAfterRe.ReplaceAllString(text, "$1 ")

	return capitalizeSentences(strings.TrimSpace(text))
}

func capitalizeSentences(text string) string {
	sentences := strings.Split(text, ". ")
	for i, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		sentences[i] = strings.ToUpper(sentence[:1]) + sentence[1:]
	}
	return strings.Join(sentences, ". ")
}

var titleRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:how to|guide to|tutorial on|setting up|deploying|installing)\s+([^.!?]+)`),
	regexp.MustCompile(`(?i)(?:this video|today we|we will|we're going to)\s+(?:show|demonstrate|explain|cover)\s+([^.!?]+)`),
}

func extractTitle(text string) string {
	head := text
	if len(head) > 500 {
		head = head[:500]
	}

	for _, re := range titleRes {
		if match := re.FindStringSubmatch(head); match != nil {
			return titleCase(strings.TrimSpace(match[1]))
		}
	}

	for _, sentence := range strings.SplitN(text, ".", 4) {
		if len(strings.TrimSpace(sentence)) > 10 {
			return titleCase(strings.TrimSpace(sentence))
		}
	}

	return "Generated Guide"
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func extractIntroduction(text string) string {
	sentences := strings.SplitN(text, ".", 4)
	if len(sentences) > 3 {
		sentences = sentences[:3]
	}

	var kept []string
	for _, sentence := range sentences {
		if trimmed := strings.TrimSpace(sentence); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}

	intro := strings.Join(kept, ". ")
	if intro != "" && !strings.HasSuffix(intro, ".") {
		intro += "."
	}
	return intro
}

func (t *TemplateBackend) extractSections(text string) []Section {
	maxLength := t.Config.MaxSectionLength
	if maxLength <= 0 {
		maxLength = 500
	}
	minLength := t.Config.MinSectionLength
	if minLength <= 0 {
		minLength = 50
	}

	var paragraphs []string
	var current strings.Builder
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		sentence += "."
		if current.Len() > 0 && current.Len()+len(sentence) > maxLength {
			paragraphs = append(paragraphs, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}

	var sections []Section
	for _, paragraph := range paragraphs {
		if len(paragraph) < minLength {
			continue
		}
		sections = append(sections, Section{
			Title: fmt.Sprintf("Step %d", len(sections)+1),
			Body:  paragraph,
		})
	}

	return sections
}

var commandRes = []*regexp.Regexp{
	regexp.MustCompile("(?i)(?:run|execute|type|enter)\\s+[\"`]([^\"`]+)[\"`]"),
	regexp.MustCompile(`(?i)(?:command|cmd):\s*([^\n.]+)`),
	regexp.MustCompile(`(?i)(sudo\s+[^\n.]+)`),
	regexp.MustCompile(`(?i)((?:apt|yum|pip|npm|docker|git)\s+[a-z][^\n.]*)`),
}

func extractCommands(text string) []string {
	seen := make(map[string]bool)
	var commands []string

	for _, re := range commandRes {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			cmd := strings.TrimSpace(match[1])
			if len(cmd) <= 3 || seen[cmd] {
				continue
			}
			seen[cmd] = true
			commands = append(commands, cmd)
		}
	}

	if len(commands) > 10 {
		commands = commands[:10]
	}
	return commands
}

var urlRe = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+[^\s<>"{}|\\^` + "`" + `\[\].,;:!?]`)

func extractURLs(text string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, url := range urlRe.FindAllString(text, -1) {
		if seen[url] {
			continue
		}
		seen[url] = true
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

var prereqRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:prerequisite|requirement|must have|should have)\s*:?\s*([^.!?]+)`),
	regexp.MustCompile(`(?i)(?:before|first|initially)\s+(?:you|we)\s+(?:need|must|should)\s+([^.!?]+)`),
	regexp.MustCompile(`(?i)(?:make sure|ensure)\s+(?:you|we)\s+(?:have|install|setup)\s+([^.!?]+)`),
}

func extractPrerequisites(text string) []string {
	var prereqs []string
	for _, re := range prereqRes {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			prereq := strings.TrimSpace(match[1])
			if len(prereq) > 5 {
				prereqs = append(prereqs, prereq)
			}
		}
	}
	if len(prereqs) > 5 {
		prereqs = prereqs[:5]
	}
	return prereqs
}

var troubleRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:error|problem|issue|fail)\s*:?\s*([^.!?]+)`),
	regexp.MustCompile(`(?i)(?:if|when)\s+(?:you see|you get|this happens)\s*:?\s*([^.!?]+)`),
}

func extractTroubleshooting(text string) []Troubleshooting {
	var entries []Troubleshooting
	for _, re := range troubleRes {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			issue := strings.TrimSpace(match[1])
			if len(issue) <= 10 {
				continue
			}
			entries = append(entries, Troubleshooting{
				Issue:    issue,
				Solution: "Refer to the documentation or check the logs for more details.",
			})
		}
	}
	if len(entries) > 3 {
		entries = entries[:3]
	}
	return entries
}

// estimateReadingTime assumes 200 words per minute.
func estimateReadingTime(text string) int {
	minutes := (len(strings.Fields(text)) + 199) / 200
	return max(1, minutes)
}
