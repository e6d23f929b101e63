package store

import (
	"fmt"
	"strconv"

	"github.com/quizdesk/quizstore/types"
)

// Inspect checks in-memory collections for the invariants the relational
// schema enforces: answer indexes within range, derived percentages and
// scores owned by existing users.
func Inspect(users map[string]types.User, questions []types.Question, scores []types.Score) []Issue {
	var issues []Issue

	seen := make(map[int]bool, len(questions))
	for _, q := range questions {
		key := strconv.Itoa(q.ID)
		if seen[q.ID] {
			issues = append(issues, Issue{Entity: EntityQuestions, Key: key, Problem: "duplicate id"})
		}
		seen[q.ID] = true
		if !q.AnswerInRange() {
			issues = append(issues, Issue{
				Entity:  EntityQuestions,
				Key:     key,
				Problem: fmt.Sprintf("answer %d outside %d options", q.Answer, len(q.Options)),
			})
		}
	}

	for _, s := range scores {
		if _, ok := users[s.Username]; !ok {
			issues = append(issues, Issue{
				Entity:  EntityScores,
				Key:     s.ID,
				Problem: fmt.Sprintf("references missing user %q", s.Username),
			})
		}
		if !s.PercentageConsistent() {
			issues = append(issues, Issue{
				Entity:  EntityScores,
				Key:     s.ID,
				Problem: fmt.Sprintf("percentage %.2f does not match %d/%d", s.Percentage, s.Score, s.MaxScore),
			})
		}
	}

	for name, u := range users {
		if !types.IsPasswordHash(u.PasswordHash) {
			issues = append(issues, Issue{Entity: EntityUsers, Key: name, Problem: "password is not a hash"})
		}
		if u.Role != types.RoleOperator && u.Role != types.RoleAdministrator {
			issues = append(issues, Issue{Entity: EntityUsers, Key: name, Problem: fmt.Sprintf("unknown role %q", u.Role)})
		}
	}

	return issues
}
