package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskParameters(t *testing.T) {
	params := map[string]interface{}{
		"inputFile": "transactions.csv",
		"apiKey":    "secret-token",
	}

	masked := MaskParameters(params, []string{"apiKey", "password"})

	assert.Equal(t, "transactions.csv", masked["inputFile"])
	assert.Equal(t, MaskValue, masked["apiKey"])
	assert.NotContains(t, masked, "password")
	assert.Equal(t, "secret-token", params["apiKey"])
}

func TestMaskParametersEmptyInput(t *testing.T) {
	assert.Empty(t, MaskParameters(nil, []string{"apiKey"}))
}

func TestExecutionContextRoundTrip(t *testing.T) {
	ec := map[string]interface{}{
		"transactions.readCount": 120,
		"checkpoint.read_count":  50,
		"phase":                  "export",
	}

	data, err := MarshalExecutionContext(ec)
	require.NoError(t, err)

	restored := map[string]interface{}{"stale": true}
	require.NoError(t, UnmarshalExecutionContext(data, &restored))

	assert.NotContains(t, restored, "stale")
	assert.Equal(t, "export", restored["phase"])
	// JSON numbers come back as float64.
	assert.Equal(t, float64(120), restored["transactions.readCount"])
}

func TestUnmarshalExecutionContextEmptyPayloads(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("null"), []byte("{}")} {
		var ec map[string]interface{}
		require.NoError(t, UnmarshalExecutionContext(data, &ec))
		assert.NotNil(t, ec)
		assert.Empty(t, ec)
	}
}

func TestUnmarshalExecutionContextInvalidJSON(t *testing.T) {
	var ec map[string]interface{}
	err := UnmarshalExecutionContext([]byte("{not json"), &ec)
	assert.Error(t, err)
}

func TestMarshalExecutionContextNil(t *testing.T) {
	data, err := MarshalExecutionContext(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestParametersRoundTrip(t *testing.T) {
	params := map[string]interface{}{"inputFile": "a.csv", "gridSize": 4}

	data, err := MarshalParameters(params)
	require.NoError(t, err)

	var restored map[string]interface{}
	require.NoError(t, UnmarshalParameters(data, &restored))
	assert.Equal(t, "a.csv", restored["inputFile"])
	assert.Equal(t, float64(4), restored["gridSize"])
}

func TestMarshalParametersEmpty(t *testing.T) {
	data, err := MarshalParameters(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestFailuresRoundTrip(t *testing.T) {
	data, err := MarshalFailures([]string{"read failed", "write failed"})
	require.NoError(t, err)

	var restored []string
	require.NoError(t, UnmarshalFailures(data, &restored))
	assert.Equal(t, []string{"read failed", "write failed"}, restored)

	data, err = MarshalFailures(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	require.NoError(t, UnmarshalFailures(nil, &restored))
	assert.Empty(t, restored)
}
