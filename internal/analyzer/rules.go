package analyzer

import (
	"context"
	"regexp"
)

// Rule maps a pattern to the feature key it indicates.
type Rule struct {
	Key     string
	Pattern *regexp.Regexp
}

// RuleAnalyzer reports the key of every rule whose pattern matches, in
// rule order.
type RuleAnalyzer struct {
	name       string
	extensions []string
	rules      []Rule
}

// NewRuleAnalyzer creates a RuleAnalyzer.
func NewRuleAnalyzer(name string, extensions []string, rules []Rule) *RuleAnalyzer {
	return &RuleAnalyzer{name: name, extensions: extensions, rules: rules}
}

func (a *RuleAnalyzer) Name() string         { return a.name }
func (a *RuleAnalyzer) Extensions() []string { return a.extensions }

func (a *RuleAnalyzer) Analyze(ctx context.Context, _ string, content []byte) ([]string, error) {
	var keys []string
	for _, r := range a.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.Pattern.Match(content) {
			keys = append(keys, r.Key)
		}
	}
	return keys, nil
}

func rule(key, pattern string) Rule {
	return Rule{Key: key, Pattern: regexp.MustCompile(pattern)}
}

var jsRules = []Rule{
	rule("js.hashbang", `\A#!`),
	rule("js.optional-chaining", `\?\.[A-Za-z_$\[(]`),
	rule("js.nullish-coalescing", `\?\?`),
	rule("js.dynamic-import", `\bimport\s*\(`),
	rule("js.private-fields", `\bthis\.#[A-Za-z_$]`),
	rule("js.bigint", `\b\d+n\b|\bBigInt\s*\(`),
	rule("js.top-level-await", `(?m)^(?:export\s+)?(?:(?:const|let|var)\s+[\w${}\[\],\s]+=\s*)?await\s`),
	rule("js.eval", `\beval\s*\(`),
	rule("js.new-function", `\bnew\s+Function\s*\(`),
	rule("js.promise-any", `\bPromise\.any\s*\(`),
	rule("js.weakref", `\bnew\s+WeakRef\s*\(`),
	rule("js.array-at", `\.at\(\s*-?\d`),
	rule("js.findlast", `\.findLast(?:Index)?\s*\(`),
	rule("js.array-group", `\b(?:Object|Map)\.groupBy\s*\(`),
	rule("js.structured-clone", `\bstructuredClone\s*\(`),
	rule("js.shared-array-buffer", `\bSharedArrayBuffer\b`),
	rule("js.url-canparse", `\bURL\.canParse\s*\(`),
	rule("js.temporal", `\bTemporal\.[A-Z]`),
	rule("js.view-transitions", `\.startViewTransition\s*\(`),
	rule("js.document-write", `\bdocument\.write(?:ln)?\s*\(`),
	rule("js.innerhtml", `\.innerHTML\s*\+?=[^=]`),
}

var cssRules = []Rule{
	rule("css.has", `:has\(`),
	rule("css.container-queries", `@container\b`),
	rule("css.aspect-ratio", `\baspect-ratio\s*:`),
	rule("css.cascade-layers", `@layer\b`),
	rule("css.nesting", `(?m)^\s*&`),
	rule("css.text-wrap-balance", `\btext-wrap\s*:\s*balance\b`),
	rule("css.backdrop-filter", `\bbackdrop-filter\s*:`),
	rule("css.subgrid", `\bsubgrid\b`),
	rule("css.color-mix", `\bcolor-mix\(`),
	rule("css.appearance", `(?:^|[\s;{])appearance\s*:`),
	rule("css.scrollbar-gutter", `\bscrollbar-gutter\s*:`),
	rule("css.anchor-positioning", `\b(?:anchor-name|position-anchor)\s*:`),
	rule("css.scroll-driven-animations", `\banimation-timeline\s*:`),
	rule("css.view-transitions", `::view-transition|\bview-transition-name\s*:`),
}

var htmlRules = []Rule{
	rule("html.dialog", `(?i)<dialog\b`),
	rule("html.popover", `(?i)<[a-z][^>]*\spopover(?:[\s=>])`),
	rule("html.lazy-loading", `(?i)\bloading\s*=\s*["']?lazy\b`),
	rule("html.import-maps", `(?i)<script[^>]*\btype\s*=\s*["']?importmap\b`),
}

// JavaScript analyzes JavaScript and TypeScript sources.
func JavaScript() *RuleAnalyzer {
	return NewRuleAnalyzer("javascript",
		[]string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".mts"}, jsRules)
}

// CSS analyzes stylesheets.
func CSS() *RuleAnalyzer {
	return NewRuleAnalyzer("css", []string{".css", ".scss", ".less"}, cssRules)
}

// HTML analyzes markup.
func HTML() *RuleAnalyzer {
	return NewRuleAnalyzer("html", []string{".html", ".htm"}, htmlRules)
}
