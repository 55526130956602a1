package services

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"
	"github.com/tasktrack/apiserver/types"
)

// filterTasks keeps the tasks matching every set field of filter, then sorts
// them when SortBy names a known key. Deleted tasks only appear when the
// filter asks for that status.
func filterTasks(tasks []types.Task, filter *types.TaskFilter) []types.Task {
	if filter == nil {
		return withoutDeleted(tasks)
	}

	term := strings.ToLower(strings.TrimSpace(filter.SearchTerm))
	out := make([]types.Task, 0, len(tasks))
	for _, task := range tasks {
		if filter.Status != nil {
			if task.Status != *filter.Status {
				continue
			}
		} else if task.Status == types.TaskStatusDeleted {
			continue
		}
		if filter.AssignedUserID != nil && !task.IsAssignedTo(*filter.AssignedUserID) {
			continue
		}
		if filter.IsDelayed != nil && task.IsDelayed != *filter.IsDelayed {
			continue
		}
		if term != "" && !matchesSearch(task, term) {
			continue
		}
		out = append(out, task)
	}

	sortTasks(out, filter.SortBy, filter.SortDescending)
	return out
}

func withoutDeleted(tasks []types.Task) []types.Task {
	out := make([]types.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Status != types.TaskStatusDeleted {
			out = append(out, task)
		}
	}
	return out
}

// minFuzzyTermRunes keeps short terms to plain substring matching; a two or
// three letter subsequence matches almost any name.
const minFuzzyTermRunes = 4

// matchesSearch accepts a case-insensitive substring of the name or
// description, or a fuzzy subsequence match on the name that starts at the
// beginning of a word. term is lower case.
func matchesSearch(task types.Task, term string) bool {
	name := strings.ToLower(task.Name)
	if strings.Contains(name, term) {
		return true
	}
	if task.Description != nil && strings.Contains(strings.ToLower(*task.Description), term) {
		return true
	}
	if utf8.RuneCountInString(term) < minFuzzyTermRunes {
		return false
	}
	first, _ := utf8.DecodeRuneInString(term)
	for _, start := range wordStarts(name) {
		rest := name[start:]
		if r, _ := utf8.DecodeRuneInString(rest); r != first {
			continue
		}
		if len(fuzzy.Find(term, []string{rest})) > 0 {
			return true
		}
	}
	return false
}

// wordStarts returns the byte offsets of every letter or digit in s that
// follows a non-alphanumeric rune or the start of the string.
func wordStarts(s string) []int {
	var starts []int
	prevWord := false
	for i, r := range s {
		word := unicode.IsLetter(r) || unicode.IsDigit(r)
		if word && !prevWord {
			starts = append(starts, i)
		}
		prevWord = word
	}
	return starts
}

// sortTasks orders tasks in place. An unknown key keeps the store order.
// Tasks without a deadline always sort after those with one.
func sortTasks(tasks []types.Task, sortBy string, descending bool) {
	var compare func(a, b types.Task) int
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case types.SortByName:
		compare = func(a, b types.Task) int {
			return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	case types.SortByStatus:
		compare = func(a, b types.Task) int {
			return cmp.Compare(a.Status, b.Status)
		}
	case types.SortByCreated:
		compare = func(a, b types.Task) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	case types.SortByDeadline:
		slices.SortStableFunc(tasks, func(a, b types.Task) int {
			switch {
			case a.Deadline == nil && b.Deadline == nil:
				return 0
			case a.Deadline == nil:
				return 1
			case b.Deadline == nil:
				return -1
			}
			if descending {
				return b.Deadline.Compare(*a.Deadline)
			}
			return a.Deadline.Compare(*b.Deadline)
		})
		return
	default:
		return
	}

	if descending {
		slices.SortStableFunc(tasks, func(a, b types.Task) int { return compare(b, a) })
		return
	}
	slices.SortStableFunc(tasks, compare)
}
