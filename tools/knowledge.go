package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// KnowledgeArgs are the arguments for the lookup_information tool.
type KnowledgeArgs struct {
	Topic string `json:"topic" jsonschema:"description=The topic to look up. Examples: business_hours, return_policy, shipping, support, pricing, contact, cancellation, warranty"`
	Query string `json:"query,omitempty" jsonschema:"description=Additional context or specific question about the topic"`
}

// KnowledgeResult is the tool output returned to the model.
type KnowledgeResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Topic           string `json:"topic,omitempty"`
	Information     string `json:"information,omitempty"`
	AvailableTopics string `json:"available_topics,omitempty"`
}

// defaultKnowledge mirrors the topics the call center answers most often.
var defaultKnowledge = map[string]string{
	"business_hours": "Our business hours are Monday-Friday 9am-5pm EST",
	"return_policy":  "We offer a 30-day money-back guarantee on all products. Items must be in original condition.",
	"shipping":       "Standard shipping takes 5-7 business days. Express shipping is available for 2-3 day delivery.",
	"support":        "For technical support, email support@example.com or call 1-800-SUPPORT",
	"pricing":        "Our pricing varies by plan. Basic plan starts at $9.99/month, Professional at $29.99/month, and Enterprise is custom priced.",
	"contact":        "You can reach us at contact@example.com or call 1-800-CONTACT",
	"cancellation":   "You can cancel your subscription anytime from your account settings. No cancellation fees apply.",
	"warranty":       "All products come with a 1-year manufacturer warranty covering defects in materials and workmanship.",
}

// KnowledgeBase answers topic lookups with exact and fuzzy matching.
// Resolved fuzzy matches are cached so repeated mid-call lookups of the
// same phrasing skip the scan.
type KnowledgeBase struct {
	entries map[string]string
	topics  []string // sorted, for deterministic fuzzy match and listings
	cache   *lru.Cache[string, string]
}

// NewKnowledgeBase builds a knowledge base over entries; nil entries uses
// the built-in demo content.
func NewKnowledgeBase(entries map[string]string) (*KnowledgeBase, error) {
	if entries == nil {
		entries = defaultKnowledge
	}
	cache, err := lru.New[string, string](128)
	if err != nil {
		return nil, fmt.Errorf("create lookup cache: %w", err)
	}
	kb := &KnowledgeBase{
		entries: make(map[string]string, len(entries)),
		cache:   cache,
	}
	for k, v := range entries {
		kb.entries[k] = v
		kb.topics = append(kb.topics, k)
	}
	sort.Strings(kb.topics)
	return kb, nil
}

// Lookup resolves topic to a knowledge entry, trying exact match first and
// then substring matching against known topics.
func (kb *KnowledgeBase) Lookup(topic string) (resolved, information string, ok bool) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if info, ok := kb.entries[topic]; ok {
		return topic, info, true
	}
	if key, ok := kb.cache.Get(topic); ok {
		return key, kb.entries[key], true
	}
	for _, key := range kb.topics {
		if strings.Contains(key, topic) || strings.Contains(topic, key) {
			kb.cache.Add(topic, key)
			return key, kb.entries[key], true
		}
	}
	return "", "", false
}

// Topics returns the known topic names, sorted.
func (kb *KnowledgeBase) Topics() []string {
	return append([]string(nil), kb.topics...)
}

// NewKnowledgeLookup builds the lookup_information tool over kb.
func NewKnowledgeLookup(kb *KnowledgeBase) Tool {
	return New("lookup_information",
		"Looks up information from the company knowledge base. Use this when the user asks about business hours, policies, pricing, shipping, support, or other company information.",
		func(ctx context.Context, args KnowledgeArgs) (any, error) {
			topic, info, ok := kb.Lookup(args.Topic)
			if !ok {
				return KnowledgeResult{
					Success:         false,
					Message:         fmt.Sprintf("No information found for topic: %s", args.Topic),
					AvailableTopics: strings.Join(kb.Topics(), ", "),
				}, nil
			}
			return KnowledgeResult{
				Success:     true,
				Message:     fmt.Sprintf("Found information about %s", topic),
				Topic:       topic,
				Information: info,
			}, nil
		})
}
