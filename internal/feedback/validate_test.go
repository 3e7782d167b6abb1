package feedback

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fleet-feedback/internal/model"
)

func validVehicleFeedback() VehicleFeedback {
	return VehicleFeedback{
		Plate:   "ABC-1234",
		Kind:    model.KindCompliment,
		Message: "Dirigiu com muita atenção",
	}
}

func TestValidate_VehicleFeedback(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*VehicleFeedback)
		field  string
	}{
		{"valid", func(*VehicleFeedback) {}, ""},
		{"missing plate", func(f *VehicleFeedback) { f.Plate = "" }, "plate"},
		{"bad kind", func(f *VehicleFeedback) { f.Kind = "complaint" }, "kind"},
		{"short message", func(f *VehicleFeedback) { f.Message = "ok" }, "message"},
		{"long name", func(f *VehicleFeedback) { f.ReporterName = strings.Repeat("a", 121) }, "reporter_name"},
		{"bad phone", func(f *VehicleFeedback) { f.ReporterPhone = "12345" }, "reporter_phone"},
		{"good phone", func(f *VehicleFeedback) { f.ReporterPhone = "+55 (11) 98765-4321" }, ""},
		{"bad latitude", func(f *VehicleFeedback) { f.Location = &LocationInput{Lat: 95, Lon: -46.6} }, "lat"},
		{"good location", func(f *VehicleFeedback) { f.Location = &LocationInput{Lat: -23.5, Lon: -46.6} }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validVehicleFeedback()
			tt.mutate(&req)

			err := Validate(req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Contains(t, verr.Message, tt.field)
		})
	}
}

func TestValidate_OperatorFeedback(t *testing.T) {
	err := Validate(OperatorFeedback{Kind: model.KindIncident, Message: "freada brusca"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "matricula", verr.Field)

	assert.NoError(t, Validate(OperatorFeedback{Matricula: 4821, Kind: model.KindIncident, Message: "freada brusca"}))
}

func TestValidate_PhoneMessage(t *testing.T) {
	req := validVehicleFeedback()
	req.ReporterPhone = "abc"
	err := Validate(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Brazilian phone number")
}

func TestValidateToken(t *testing.T) {
	assert.NoError(t, ValidateToken("tok-1"))

	var verr *ValidationError
	require.True(t, errors.As(ValidateToken("   "), &verr))
	assert.Equal(t, "actor_token", verr.Field)
	require.True(t, errors.As(ValidateToken(strings.Repeat("x", 129)), &verr))
	assert.Contains(t, verr.Message, "too long")
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"(11) 98765-4321", "11987654321", true},
		{"+55 11 98765-4321", "11987654321", true},
		{"5511987654321", "11987654321", true},
		{"19 3251-0000", "1932510000", true},
		{"98765-4321", "", false},
		{"(20) 98765-4321", "", false},
		{"(11) 88765-4321", "", false},
		{"+1 415 555 0100", "", false},
		{"", "", false},
		{"telefone", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizePhone(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "feedback: invalid plate: plate is required", (&ValidationError{Field: "plate", Message: "plate is required"}).Error())
	assert.Equal(t, "feedback: invalid submission: malformed request", (&ValidationError{Message: "malformed request"}).Error())

	base := errors.New("connection refused")
	up := &UpstreamError{Op: "duplicate check", Err: base}
	assert.Equal(t, "feedback: duplicate check: connection refused", up.Error())
	assert.True(t, errors.Is(up, base))
}
