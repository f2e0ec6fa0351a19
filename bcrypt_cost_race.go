//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// race builds run the concurrent registration suites, keep hashing cheap there
func passwordHashCost() int {
	return bcrypt.MinCost
}
