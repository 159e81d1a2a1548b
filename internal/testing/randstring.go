// Package testing holds fixtures shared by the package tests
package testing

import (
	"math/rand"
	"strings"
)

const charSet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandString generates random string with 10 symbols length from lower- and uppercase alphabet.
// Tests use it for ids and names that must not collide with rows of earlier runs.
func RandString() string {
	var out strings.Builder
	out.Grow(10)
	for i := 0; i < 10; i++ {
		out.WriteByte(charSet[rand.Intn(len(charSet))])
	}
	return out.String()
}
