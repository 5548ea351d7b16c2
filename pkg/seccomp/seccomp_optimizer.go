// Copyright 2023 The iodisco Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package seccomp

// ruleOptimizerFunc optimizes a Rule. It returns the updated Rule, along
// with whether any modification was made.
type ruleOptimizerFunc func(Rule) (Rule, bool)

// unwrapSingleOr replaces an Or rule with a single branch by that branch.
func unwrapSingleOr(rule Rule) (Rule, bool) {
	if orRule, isOr := rule.(Or); isOr && len(orRule) == 1 {
		return orRule[0], true
	}
	return rule, false
}

// unwrapSingleAnd replaces an And rule with a single branch by that branch.
func unwrapSingleAnd(rule Rule) (Rule, bool) {
	if andRule, isAnd := rule.(And); isAnd && len(andRule) == 1 {
		return andRule[0], true
	}
	return rule, false
}

// flattenOrRules turns Ors embedded inside an Or rule into a flat Or rule.
func flattenOrRules(rule Rule) (Rule, bool) {
	orRule, isOr := rule.(Or)
	if !isOr {
		return rule, false
	}
	nested := false
	for _, sub := range orRule {
		if _, subIsOr := sub.(Or); subIsOr {
			nested = true
			break
		}
	}
	if !nested {
		return rule, false
	}
	var rules []Rule
	for _, sub := range orRule {
		if subOr, subIsOr := sub.(Or); subIsOr {
			rules = append(rules, subOr...)
		} else {
			rules = append(rules, sub)
		}
	}
	return Or(rules), true
}

// flattenAndRules turns Ands embedded inside an And rule into a flat And
// rule.
func flattenAndRules(rule Rule) (Rule, bool) {
	andRule, isAnd := rule.(And)
	if !isAnd {
		return rule, false
	}
	nested := false
	for _, sub := range andRule {
		if _, subIsAnd := sub.(And); subIsAnd {
			nested = true
			break
		}
	}
	if !nested {
		return rule, false
	}
	var rules []Rule
	for _, sub := range andRule {
		if subAnd, subIsAnd := sub.(And); subIsAnd {
			rules = append(rules, subAnd...)
		} else {
			rules = append(rules, sub)
		}
	}
	return And(rules), true
}

// convertMatchAllOrXToMatchAll converts an Or rule that contains MatchAll
// to MatchAll.
func convertMatchAllOrXToMatchAll(rule Rule) (Rule, bool) {
	orRule, isOr := rule.(Or)
	if !isOr {
		return rule, false
	}
	for _, sub := range orRule {
		if _, isMatchAll := sub.(MatchAll); isMatchAll {
			return MatchAll{}, true
		}
	}
	return rule, false
}

// convertMatchAllAndXToX removes MatchAll clauses from And rules.
func convertMatchAllAndXToX(rule Rule) (Rule, bool) {
	andRule, isAnd := rule.(And)
	if !isAnd {
		return rule, false
	}
	var rules []Rule
	for _, sub := range andRule {
		if _, isMatchAll := sub.(MatchAll); !isMatchAll {
			rules = append(rules, sub)
		}
	}
	if len(rules) == len(andRule) {
		return rule, false
	}
	if len(rules) == 0 {
		return MatchAll{}, true
	}
	return And(rules), true
}

// dedupOr drops repeated leaves from Or rules. Multiplexed requests show up
// once per selector.
func dedupOr(rule Rule) (Rule, bool) {
	orRule, isOr := rule.(Or)
	if !isOr {
		return rule, false
	}
	seen := make(map[Rule]bool)
	var rules []Rule
	for _, sub := range orRule {
		switch sub.(type) {
		case EqualTo, MaskedEqual:
			if seen[sub] {
				continue
			}
			seen[sub] = true
		}
		rules = append(rules, sub)
	}
	if len(rules) == len(orRule) {
		return rule, false
	}
	return Or(rules), true
}

// optimizeRuleFuncs losslessly optimizes a Rule using the given
// optimization functions.
// Optimizers should be ranked in order of importance, with the most
// important first.
// An optimizer will be exhausted before the next one is ever run.
// Earlier optimizers are re-exhausted if later optimizers cause change.
func optimizeRuleFuncs(rule Rule, funcs []ruleOptimizerFunc) Rule {
	for changed := true; changed; {
		for _, fn := range funcs {
			rule.Recurse(func(sub Rule) Rule {
				return optimizeRuleFuncs(sub, funcs)
			})
			if rule, changed = fn(rule); changed {
				break
			}
		}
	}
	return rule
}

// Optimize losslessly simplifies rule.
func Optimize(rule Rule) Rule {
	return optimizeRuleFuncs(rule, []ruleOptimizerFunc{
		unwrapSingleOr,
		unwrapSingleAnd,
		flattenOrRules,
		flattenAndRules,
		convertMatchAllOrXToMatchAll,
		convertMatchAllAndXToX,
		dedupOr,
	})
}
