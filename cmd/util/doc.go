// Package util holds the flag and configuration helpers shared by the ddoc commands.
package util
