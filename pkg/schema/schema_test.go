package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleSchema = `
[message]
name = "telemetry.v1"

[[message.fields]]
name = "temp_c"
type = "f64"
min = -40.0
max = 85.0

[[message.fields]]
name = "online"
type = "bool"

[[message.fields]]
name = "device_id"
type = "bytes"
len = 4
`

func TestParseAndValidateAccepted(t *testing.T) {
	s, err := Parse(sampleSchema)
	require.NoError(t, err)
	require.Equal(t, "telemetry.v1", s.Name)

	err = s.Validate(map[string]interface{}{
		"temp_c":    21.5,
		"online":    true,
		"device_id": []byte{1, 2, 3, 4},
	})
	require.NoError(t, err)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	s, err := Parse(sampleSchema)
	require.NoError(t, err)

	err = s.Validate(map[string]interface{}{
		"temp_c":    200.0,
		"online":    true,
		"device_id": []byte{1, 2, 3, 4},
	})
	var v *ErrViolation
	require.ErrorAs(t, err, &v)
	require.Equal(t, "temp_c", v.Field)
}

func TestValidateRejectsWrongType(t *testing.T) {
	s, err := Parse(sampleSchema)
	require.NoError(t, err)

	err = s.Validate(map[string]interface{}{
		"temp_c":    "hot",
		"online":    true,
		"device_id": []byte{1, 2, 3, 4},
	})
	var v *ErrViolation
	require.ErrorAs(t, err, &v)
	require.Equal(t, "temp_c", v.Field)
}

func TestValidateRejectsMissingField(t *testing.T) {
	s, err := Parse(sampleSchema)
	require.NoError(t, err)

	err = s.Validate(map[string]interface{}{
		"temp_c": 10.0,
		"online": true,
	})
	var v *ErrViolation
	require.ErrorAs(t, err, &v)
	require.Equal(t, "device_id", v.Field)
}

func TestValidateRejectsWrongByteLength(t *testing.T) {
	s, err := Parse(sampleSchema)
	require.NoError(t, err)

	err = s.Validate(map[string]interface{}{
		"temp_c":    10.0,
		"online":    true,
		"device_id": []byte{1, 2},
	})
	var v *ErrViolation
	require.ErrorAs(t, err, &v)
	require.Equal(t, "device_id", v.Field)
}
