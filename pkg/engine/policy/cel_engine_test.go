package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELEngine(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	tests := []struct {
		name string
		expr string
		in   Input
		want bool
	}{
		{"tag match", "tags.env == 'prod'", Input{Tags: map[string]string{"env": "prod"}}, true},
		{"tag missing", "'keep' in tags", Input{}, false},
		{"age", "age_days < 60.0", Input{AgeDays: 45}, true},
		{"attrs", "type == 'ebs_volume' && attrs.size_gb > 50.0", Input{Type: "ebs_volume", Attrs: map[string]interface{}{"size_gb": 100.0}}, true},
		{"region prefix", "region.startsWith('eu-')", Input{Region: "us-east-1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := engine.Compile(tt.expr)
			require.NoError(t, err)
			got, err := p.Matches(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELEngine_CompileErrors(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	_, err = engine.Compile("tags.env ==")
	assert.Error(t, err)

	_, err = engine.Compile("age_days + 1.0")
	assert.ErrorContains(t, err, "must return bool")

	_, err = engine.Compile("unknown_var == 1")
	assert.Error(t, err)
}

func TestCELEngine_CachesPrograms(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	a, err := engine.Compile("id == 'x'")
	require.NoError(t, err)
	b, err := engine.Compile("id == 'x'")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestProgram_MissingAttrIsError(t *testing.T) {
	engine, err := NewCELEngine()
	require.NoError(t, err)

	p, err := engine.Compile("attrs.size_gb > 10.0")
	require.NoError(t, err)
	_, err = p.Matches(Input{})
	assert.Error(t, err)
}
