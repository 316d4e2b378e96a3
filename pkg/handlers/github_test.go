package handlers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFileContent_RejectsLongNonASCIIRun(t *testing.T) {
	err := validateFileContent(strings.Repeat("é", 20))
	assert.Error(t, err)
}

func TestValidateFileContent_AllowsOccasionalNonASCII(t *testing.T) {
	err := validateFileContent("café is spelled with one accent")
	assert.NoError(t, err)
}

func TestValidateFileContent_AllowsPlainASCII(t *testing.T) {
	err := validateFileContent("package main\n\nfunc main() {}\n")
	assert.NoError(t, err)
}

func TestInheritedTags_DropsDelegationMarkersAndAddsParent(t *testing.T) {
	tags := inheritedTags([]string{"remediation", "auto-qa-loop", "parent:wo-old", "edge-function"}, "wo-new")
	assert.Equal(t, []string{"edge-function", "parent:wo-new"}, tags)
}
