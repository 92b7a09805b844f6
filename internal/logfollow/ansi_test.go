package logfollow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSICodesStripsSGRSequences(t *testing.T) {
	input := "\x1b[38;5;87mhello\x1b[0m"
	assert.Equal(t, "hello", StripANSICodes([]byte(input)))
}

func TestStripANSICodesStripsOSCSequences(t *testing.T) {
	input := "\x1b]0;title\x07payload"
	assert.Equal(t, "payload", StripANSICodes([]byte(input)))
}

func TestStripANSICodesStripsCSISequences(t *testing.T) {
	input := "\x1b[31mwarn\x1b[0m"
	assert.Equal(t, "warn", StripANSICodes([]byte(input)))
}

func TestStripANSICodesStripsSingleByteCSISequences(t *testing.T) {
	input := []byte{0x9b, '3', '1', 'm', 'w', 'a', 'r', 'n', 0x9b, '0', 'm'}
	assert.Equal(t, "warn", StripANSICodes(input))
}
