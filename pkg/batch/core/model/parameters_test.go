package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marloq/riptide/pkg/batch/core/model"
)

func TestJobParametersEqual(t *testing.T) {
	a := model.NewJobParameters()
	a.Put("inputFile", "data.csv")
	a.Put("retries", 3)

	b := model.NewJobParameters()
	b.Put("inputFile", "data.csv")
	b.Put("retries", 3)
	assert.True(t, a.Equal(b))

	// Numeric representation differences do not break equality.
	c := model.NewJobParameters()
	c.Put("inputFile", "data.csv")
	c.Put("retries", float64(3))
	assert.True(t, a.Equal(c))

	d := model.NewJobParameters()
	d.Put("inputFile", "other.csv")
	d.Put("retries", 3)
	assert.False(t, a.Equal(d))

	e := model.NewJobParameters()
	e.Put("inputFile", "data.csv")
	assert.False(t, a.Equal(e))
}

func TestJobParametersHashIsStable(t *testing.T) {
	a := model.NewJobParameters()
	a.Put("alpha", "1")
	a.Put("beta", "2")
	a.Put("gamma", "3")

	h1, err := a.Hash()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		h2, err := a.Hash()
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	}

	b := model.NewJobParameters()
	b.Put("gamma", "3")
	b.Put("alpha", "1")
	b.Put("beta", "2")
	h3, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h3, "hash must not depend on insertion order")

	c := model.NewJobParameters()
	c.Put("alpha", "1")
	h4, err := c.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}

func TestJobInstanceCarriesParametersHash(t *testing.T) {
	params := model.NewJobParameters()
	params.Put("inputFile", "data.csv")
	instance := model.NewJobInstance("importJob", params)

	expected, err := params.Hash()
	require.NoError(t, err)
	assert.Equal(t, expected, instance.ParametersHash)
	assert.Equal(t, "importJob", instance.JobName)
	assert.NotEmpty(t, instance.ID)
}
