//go:generate go run ./internal/tools/versiongen -o VERSION

package rshell
