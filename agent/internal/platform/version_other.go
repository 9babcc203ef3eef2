//go:build !unix

package platform

func osVersion() string { return "" }
