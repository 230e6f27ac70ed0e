package job

import "github.com/stretchr/testify/mock"

// MatchJob creates a custom matcher for job arguments in mocks
func MatchJob(matcher func(*Job) bool) interface{} {
	return mock.MatchedBy(matcher)
}
