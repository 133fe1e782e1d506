package service

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AssistantRule answers messages that mention any of its keywords.
type AssistantRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// AssistantRules is the rule set of the chat widget.
type AssistantRules struct {
	Context  string          `yaml:"context"`
	Fallback string          `yaml:"fallback"`
	Rules    []AssistantRule `yaml:"rules"`
}

// DefaultAssistantRules returns the built-in rule set.
func DefaultAssistantRules() AssistantRules {
	return AssistantRules{
		Context:  "Courses are self-paced video courses. Progress is tracked per video. A valid referral code gives 10% off the first course.",
		Fallback: "I'm not sure about that one. Please reach out to our support team and we'll help you out.",
		Rules: []AssistantRule{
			{Name: "greeting", Keywords: []string{"hello", "hi ", "hey"}, Reply: "Hi there! Ask me about courses, payments, referrals or your account."},
			{Name: "enroll", Keywords: []string{"enroll", "sign up for", "join a course", "register"}, Reply: "Open a course page and press Enroll. Enrolled courses appear on your dashboard."},
			{Name: "progress", Keywords: []string{"progress", "certificate", "complete"}, Reply: "Your progress updates as you finish videos. Completing every video marks the course as completed."},
			{Name: "payment", Keywords: []string{"pay", "price", "refund", "invoice"}, Reply: "We accept card payments at checkout. Refund requests can be made from your payment history."},
			{Name: "referral", Keywords: []string{"referral", "refer", "invite", "discount"}, Reply: "Share your referral code with friends. They get 10% off their first course when they sign up with it."},
			{Name: "account", Keywords: []string{"password", "login", "log in", "account"}, Reply: "You can reset your password from the sign-in page. Profile details live under Account settings."},
		},
	}
}

// LoadAssistantRules reads a YAML rule file. An empty path yields the defaults;
// missing sections of the file fall back to the default values.
func LoadAssistantRules(path string) (AssistantRules, error) {
	defaults := DefaultAssistantRules()
	if strings.TrimSpace(path) == "" {
		return defaults, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return AssistantRules{}, fmt.Errorf("read assistant rules: %w", err)
	}

	var rules AssistantRules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return AssistantRules{}, fmt.Errorf("parse assistant rules: %w", err)
	}

	if strings.TrimSpace(rules.Fallback) == "" {
		rules.Fallback = defaults.Fallback
	}
	if strings.TrimSpace(rules.Context) == "" {
		rules.Context = defaults.Context
	}
	if len(rules.Rules) == 0 {
		rules.Rules = defaults.Rules
	}
	for i, rule := range rules.Rules {
		if strings.TrimSpace(rule.Reply) == "" || len(rule.Keywords) == 0 {
			return AssistantRules{}, fmt.Errorf("assistant rule %d (%s) needs keywords and a reply", i, rule.Name)
		}
	}

	return rules, nil
}

// match returns the rule with the most keyword hits; ties go to the earlier rule.
func (r AssistantRules) match(message string) (AssistantRule, bool) {
	text := " " + strings.ToLower(message) + " "
	best := -1
	bestHits := 0
	for i, rule := range r.Rules {
		hits := 0
		for _, keyword := range rule.Keywords {
			keyword = strings.ToLower(keyword)
			if strings.TrimSpace(keyword) != "" && strings.Contains(text, keyword) {
				hits++
			}
		}
		if hits > bestHits {
			best = i
			bestHits = hits
		}
	}
	if best < 0 {
		return AssistantRule{}, false
	}
	return r.Rules[best], true
}
