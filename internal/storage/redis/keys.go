package redis

import "fmt"

// Key prefix for all match-related data
const keyPrefix = "shifumi"

// matchKey returns the Redis key for a match state document
func matchKey(id string) string {
	return fmt.Sprintf("%s:match:%s", keyPrefix, id)
}
