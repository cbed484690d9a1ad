package page

import "time"

func (s *Store) InflightCount() int { return s.inflightCount() }

func SetDeleteRetry(rounds int, delay time.Duration) func() {
	oldRounds, oldDelay := deleteRetries, deleteRetryDelay
	deleteRetries, deleteRetryDelay = rounds, delay
	return func() { deleteRetries, deleteRetryDelay = oldRounds, oldDelay }
}
