//go:build !integration

package integration

const skip = true
