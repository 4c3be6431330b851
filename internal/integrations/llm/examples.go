package llm

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Example is one annotated transcript shown to the model. The last line of
// Transcript is the message the verdict refers to.
type Example struct {
	Title      string `yaml:"title"`
	Transcript string `yaml:"transcript"`
	Verdict    string `yaml:"verdict"`
}

type exampleFile struct {
	Examples []Example `yaml:"examples"`
}

func LoadExamples(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("llm: read examples: %w", err)
	}
	var f exampleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("llm: parse examples yaml: %w", err)
	}
	var out []Example
	for i, ex := range f.Examples {
		ex.Title = strings.TrimSpace(ex.Title)
		ex.Transcript = strings.TrimSpace(ex.Transcript)
		ex.Verdict = strings.TrimSpace(ex.Verdict)
		if ex.Transcript == "" {
			return nil, fmt.Errorf("llm: example %d has an empty transcript", i+1)
		}
		out = append(out, ex)
	}
	return out, nil
}

func SaveExamples(path string, examples []Example) error {
	data, err := yaml.Marshal(exampleFile{Examples: examples})
	if err != nil {
		return fmt.Errorf("llm: marshal examples: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultExamples is the built-in few-shot set used when no examples file is
// configured.
func DefaultExamples() []Example {
	return []Example{
		{
			Title: "Clear topic shift",
			Transcript: `[+2m] customer: okay sounds good
[+4s] customer: thanks
[+4s] automated-agent: You're welcome! Is there anything else I can help you with?
[+45s] customer: actually yes
[+20s] customer: can you help me book an appointment with my coach?`,
			Verdict: "NEW SESSION (prescription help -> appointment booking)",
		},
		{
			Title: "Continuation despite time gap",
			Transcript: `[+10s] human-agent: Excellent, that's a great idea!
[+2m] customer: Okay great
[+3h] customer: What dosage?
[+10s] human-agent: I recommend starting with 0.25mg weekly for the first week and we'll monitor from there.
[+2d] customer: If I have been taking 0.25mg, when do I increase?`,
			Verdict: "SAME SESSION (continuing the same dosage topic)",
		},
		{
			Title: "Topic shift after an automated notification",
			Transcript: `[+6s] automated-agent: That's lovely to see! How are you feeling about the next steps?
[+1d] customer: Good thanks
[+1d] automated-agent: [SESSION_START] Great news, your prescription has been approved. We'll email you once it's ready to track.
[+2d] customer: Do I have to keep my medication in the fridge once it's opened?`,
			Verdict: "NEW SESSION (notification -> medicine storage question)",
		},
		{
			Title: "Automated outreach messages",
			Transcript: `[+4d] automated-agent: [SESSION_START] To safely continue your treatment we need some updated information. Please complete your outstanding tasks.
[+1d] automated-agent: [SESSION_START] Great news, your prescription has been approved.
[+4d] automated-agent: Just checking in to see how things are going since you started the new dose. Any wins or challenges?`,
			Verdict: "NEW SESSION (another automated outreach message)",
		},
		{
			Title: "Mid-conversation reply",
			Transcript: `[+22h] customer: will the 5mg be stronger or will my body just adjust?
[+3s] automated-agent: The 5mg dose is generally stronger than the starting dose. How are you feeling about the changes so far?
[+50s] customer: I am feeling ok, just a bit deflated as I haven't noticed a difference in my appetite yet`,
			Verdict: "SAME SESSION (reply in the middle of an existing conversation)",
		},
	}
}

func (e Example) text() string {
	return e.Title + "\n" + e.Transcript
}
