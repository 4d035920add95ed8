package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_DefaultMarkersAreInfra(t *testing.T) {
	c := &Classifier{}

	infra := c.Classify("execute", errors.New("connection reset by peer"), 0, "")
	assert.True(t, IsInfraError(infra))
	assert.False(t, IsApplicationError(infra))

	app := c.Classify("execute", errors.New("command exited with status 1"), 1, "boom")
	assert.True(t, IsApplicationError(app))
	assert.False(t, IsInfraError(app))
}

func TestClassify_NilErrIsNil(t *testing.T) {
	c := &Classifier{}
	assert.NoError(t, c.Classify("execute", nil, 0, ""))
}

func TestClassify_OverridePredicate(t *testing.T) {
	c := &Classifier{IsInfra: func(error) bool { return true }}
	err := c.Classify("execute", errors.New("anything"), 0, "")
	assert.True(t, IsInfraError(err))
}

func TestRegistry_GetMissingProviderIsNotOK(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}
